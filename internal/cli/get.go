package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a memory entry",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("chunks", false, "Include the entry's content chunks")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("get", fmt.Errorf("entry id must be an integer, got %q", args[0]))
	}
	withChunks, _ := cmd.Flags().GetBool("chunks")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	entry, err := s.EntryByID(cmd.Context(), id)
	if err != nil {
		exitErr("get", err)
	}

	if withChunks {
		chunks, err := s.ChunksForEntry(cmd.Context(), id)
		if err != nil {
			exitErr("get chunks", err)
		}
		b, _ := json.MarshalIndent(map[string]interface{}{
			"entry":  entry,
			"chunks": chunks,
		}, "", "  ")
		fmt.Println(string(b))
		return
	}

	b, _ := json.MarshalIndent(entry, "", "  ")
	fmt.Println(string(b))
}
