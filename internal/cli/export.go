package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the vault as JSON",
		Long:  "Export users, consents, and memory entries as a single JSON document. Feed the output back through import to restore.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snapshot, err := s.ExportAll(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(snapshot, "", "  ")
	fmt.Println(string(b))
}
