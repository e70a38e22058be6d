package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory entries",
		Run:   runList,
	}

	cmd.Flags().StringP("sensitivity", "s", "", "Filter by sensitivity")
	cmd.Flags().String("type", "", "Filter by entry type")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output id and title")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	sensitivity, _ := cmd.Flags().GetString("sensitivity")
	entryType, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	entries, err := s.ListEntries(cmd.Context(), store.ListEntriesParams{
		Sensitivity: model.Sensitivity(sensitivity),
		EntryType:   model.EntryType(entryType),
		Limit:       limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, e := range entries {
			fmt.Printf("%d\t%s\n", e.ID, e.Title)
		}
		return
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}
