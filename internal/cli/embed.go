package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/embedding"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate vector embeddings for entries",
		Long:  "Generate dense vector embeddings for memory entries using the configured provider. By default only entries without an embedding are processed; --rebuild re-embeds everything.",
		Run:   runEmbed,
	}

	cmd.Flags().Bool("rebuild", false, "Re-embed all entries, replacing stored vectors")
	cmd.Flags().Int("limit", 0, "Maximum number of entries to process (0 = all)")

	RootCmd.AddCommand(cmd)
}

func runEmbed(cmd *cobra.Command, args []string) {
	rebuild, _ := cmd.Flags().GetBool("rebuild")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg := loadConfig()

	embedder, err := embedding.New(cfg.Embeddings)
	if err != nil {
		exitErr("init embedder", err)
	}
	if embedder == nil {
		exitErr("init embedder", fmt.Errorf("embeddings provider is %q; set embeddings.provider in config", cfg.Embeddings.Provider))
	}

	s, err := store.Open(cfg.DB.Path)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var entries []model.MemoryEntry
	if rebuild {
		entries, err = s.ListEntries(cmd.Context(), store.ListEntriesParams{Limit: 100000})
	} else {
		entries, err = s.EntriesWithoutEmbedding(cmd.Context())
	}
	if err != nil {
		exitErr("list entries", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if len(entries) == 0 {
		fmt.Println(`{"ok":true,"embedded":0}`)
		return
	}

	processed := 0
	for _, e := range entries {
		text := e.Title + "\n\n" + e.Content
		vec, err := embedder.Embed(cmd.Context(), text)
		if err != nil {
			exitErr(fmt.Sprintf("embed entry %d", e.ID), err)
		}
		if _, err := s.PutEmbedding(cmd.Context(), store.PutEmbeddingParams{
			EntryID:   e.ID,
			Vector:    vec,
			ModelName: cfg.Embeddings.Model,
		}); err != nil {
			exitErr(fmt.Sprintf("store embedding %d", e.ID), err)
		}
		processed++
	}

	fmt.Printf(`{"ok":true,"embedded":%d,"model":%q}`+"\n", processed, cfg.Embeddings.Model)
}
