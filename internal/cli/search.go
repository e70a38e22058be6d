package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/embedding"
	"github.com/memvault/memvault/internal/query"
	"github.com/memvault/memvault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entries by combined text and vector score",
		Long:  "Rank memory entries against free text using the hybrid text+vector scorer. Vector scores need stored embeddings; run `memvault embed` first.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("user", "u", "", "Subject user id")
	cmd.Flags().IntP("limit", "l", 10, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")
	q := strings.Join(args, " ")

	cfg := loadConfig()
	s, err := store.Open(cfg.DB.Path)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	embedder, err := embedding.New(cfg.Embeddings)
	if err != nil {
		exitErr("configure embeddings", err)
	}

	svc, err := query.New(s, embedder, cfg.Query, nil)
	if err != nil {
		exitErr("create query service", err)
	}
	defer svc.Close()

	results, err := svc.Search(cmd.Context(), userID, q, limit)
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
