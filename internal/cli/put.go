package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Create or update a memory entry",
		Long:  "Create a memory entry, or update one with --id and --expect-version. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("title", "t", "", "Entry title (required for create)")
	cmd.Flags().StringP("sensitivity", "s", "", "Sensitivity: public, confidential, secret")
	cmd.Flags().String("type", "", "Entry type: fact, event, note")
	cmd.Flags().Int64("id", 0, "Entry id (update instead of create)")
	cmd.Flags().Int64("expect-version", 0, "Expected current version (required with --id)")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	title, _ := cmd.Flags().GetString("title")
	sensitivity, _ := cmd.Flags().GetString("sensitivity")
	entryType, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetInt64("id")
	expect, _ := cmd.Flags().GetInt64("expect-version")

	// Content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	content = strings.TrimSpace(content)

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var entry *model.MemoryEntry
	if id == 0 {
		if title == "" {
			exitErr("put", fmt.Errorf("--title is required for new entries"))
		}
		if content == "" {
			exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
		}
		entry, err = s.CreateEntry(cmd.Context(), store.CreateEntryParams{
			Title:       title,
			Content:     content,
			Sensitivity: model.Sensitivity(sensitivity),
			EntryType:   model.EntryType(entryType),
		})
	} else {
		if expect == 0 {
			exitErr("put", fmt.Errorf("--expect-version is required when updating"))
		}
		params := store.UpdateEntryParams{ID: id, ExpectedVersion: expect}
		if title != "" {
			params.Title = &title
		}
		if content != "" {
			params.Content = &content
		}
		if sensitivity != "" {
			level := model.Sensitivity(sensitivity)
			params.Sensitivity = &level
		}
		if entryType != "" {
			kind := model.EntryType(entryType)
			params.EntryType = &kind
		}
		entry, err = s.UpdateEntry(cmd.Context(), params)
	}
	if err != nil {
		exitErr("put", err)
	}

	b, _ := json.MarshalIndent(entry, "", "  ")
	fmt.Println(string(b))
}
