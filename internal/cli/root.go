// Package cli implements the memvault CLI commands.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/config"
	"github.com/memvault/memvault/internal/store"
)

var (
	cfgPath string
	dbPath  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memvault",
	Short: "Consent-gated memory store for AI agents",
	Long:  "A consent-gated memory store for AI agents. Users grant scoped, sensitivity-bounded consent; agents read and write memory entries only within those grants.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file path")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMVAULT_DB or the config file)")
}

// loadConfig reads the file named by --config on top of the defaults and
// environment overrides. The --db flag wins over all of them.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}
	return cfg
}

func openStore() (*store.Store, error) {
	return store.Open(loadConfig().DB.Path)
}

// splitCSV splits a comma-separated flag value, dropping blanks.
func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
