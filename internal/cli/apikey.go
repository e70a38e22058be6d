package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage gateway API keys",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Mint a new API key",
		Long:  "Mint a new gateway API key. Rate limits default to the gateway section of the config file.",
		Run:   runAPIKeyAdd,
	}
	addCmd.Flags().StringP("name", "n", "", "Key name (required)")
	addCmd.Flags().Int("rate-limit", 0, "Requests per window (default: config gateway.default_rate_limit)")
	addCmd.Flags().Int("window", 0, "Window length in seconds (default: config gateway.default_rate_window)")
	addCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Run:   runAPIKeyList,
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke [id]",
		Short: "Deactivate an API key",
		Args:  cobra.ExactArgs(1),
		Run:   runAPIKeyRevoke,
	}

	cmd.AddCommand(addCmd, listCmd, revokeCmd)
	RootCmd.AddCommand(cmd)
}

func runAPIKeyAdd(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	rateLimit, _ := cmd.Flags().GetInt("rate-limit")
	window, _ := cmd.Flags().GetInt("window")

	cfg := loadConfig()
	if rateLimit == 0 {
		rateLimit = cfg.Gateway.DefaultRateLimit
	}
	if window == 0 {
		window = cfg.Gateway.DefaultRateWindow
	}

	s, err := store.Open(cfg.DB.Path)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	key, err := s.CreateAPIKey(cmd.Context(), store.CreateAPIKeyParams{
		Name:            name,
		RateLimit:       rateLimit,
		RateLimitWindow: window,
	})
	if err != nil {
		exitErr("create api key", err)
	}

	b, _ := json.MarshalIndent(key, "", "  ")
	fmt.Println(string(b))
}

func runAPIKeyList(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	keys, err := s.ListAPIKeys(cmd.Context())
	if err != nil {
		exitErr("list api keys", err)
	}

	if len(keys) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(keys, "", "  ")
	fmt.Println(string(b))
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("parse id", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.DeactivateAPIKey(cmd.Context(), id); err != nil {
		exitErr("revoke api key", err)
	}

	fmt.Printf(`{"ok":true,"id":%d}`+"\n", id)
}
