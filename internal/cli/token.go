package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/auth"
	"github.com/memvault/memvault/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token",
		Long:  "Mint an HS256 bearer token for development and testing. Requires auth.jwt_secret (or MEMVAULT_JWT_SECRET).",
		Run:   runToken,
	}

	cmd.Flags().StringP("user", "u", "", "Subject user id (required)")
	cmd.Flags().StringP("agent", "a", "", "Agent identifier (required)")
	cmd.Flags().String("scopes", "", "Comma-separated token scopes")
	cmd.Flags().Int64("consent", 0, "Consent id claim")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (default: config auth.token_ttl)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("agent")

	RootCmd.AddCommand(cmd)
}

func runToken(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")
	agent, _ := cmd.Flags().GetString("agent")
	scopesStr, _ := cmd.Flags().GetString("scopes")
	consentID, _ := cmd.Flags().GetInt64("consent")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg := loadConfig()
	if cfg.Auth.JWTSecret == "" {
		exitErr("token", fmt.Errorf("auth.jwt_secret is required (set MEMVAULT_JWT_SECRET or the config file)"))
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	var scopes []model.Scope
	for _, s := range splitCSV(scopesStr) {
		scopes = append(scopes, model.Scope(s))
	}

	// Minting needs only the secret; no store or engine is touched.
	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, nil, nil)
	token, err := authn.Mint(auth.TokenParams{
		UserID:    userID,
		AgentID:   agent,
		Scopes:    scopes,
		ConsentID: consentID,
		TTL:       ttl,
	})
	if err != nil {
		exitErr("token", err)
	}

	fmt.Println(token)
}
