package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a memory entry",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	cmd.Flags().Int64("expect-version", 0, "Fail unless the entry is at this version")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("rm", fmt.Errorf("entry id must be an integer, got %q", args[0]))
	}
	expect, _ := cmd.Flags().GetInt64("expect-version")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	params := store.DeleteEntryParams{ID: id}
	if expect != 0 {
		params.ExpectedVersion = &expect
	}
	if err := s.DeleteEntry(cmd.Context(), params); err != nil {
		exitErr("rm", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%d}`+"\n", id)
}
