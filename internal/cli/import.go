package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a vault snapshot from JSON",
		Long:  "Import users, consents, and memory entries from stdin. Expects the format produced by export; existing users are matched by email.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var snapshot store.Export
	if err := json.Unmarshal(data, &snapshot); err != nil {
		exitErr("parse json", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	imported, err := s.Import(cmd.Context(), &snapshot)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"users":%d,"entries":%d,"consents":%d}`+"\n",
		imported.Users, imported.Entries, imported.Consents)
}
