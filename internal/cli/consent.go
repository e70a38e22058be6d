package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

func init() {
	consentCmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage consent grants",
	}

	grantCmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a consent to an agent",
		Long:  "Grant a consent: allocates the next version for (user, agent) and activates it unless --pending is set. Scope or sensitivity changes always go through a new grant.",
		Run:   runConsentGrant,
	}
	grantCmd.Flags().StringP("user", "u", "", "User id (required)")
	grantCmd.Flags().StringP("agent", "a", "", "Agent identifier (required)")
	grantCmd.Flags().String("scopes", "memory.read", "Comma-separated scopes: memory.read, memory.write, memory.search")
	grantCmd.Flags().String("levels", "public", "Comma-separated sensitivity levels")
	grantCmd.Flags().Bool("pending", false, "Leave the consent pending instead of activating it")
	grantCmd.MarkFlagRequired("user")
	grantCmd.MarkFlagRequired("agent")

	revokeCmd := &cobra.Command{
		Use:   "revoke [id]",
		Short: "Revoke a consent",
		Args:  cobra.ExactArgs(1),
		Run:   runConsentRevoke,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List consents, newest version first per agent",
		Run:   runConsentList,
	}
	listCmd.Flags().StringP("user", "u", "", "Filter by user id")

	consentCmd.AddCommand(grantCmd, revokeCmd, listCmd)
	RootCmd.AddCommand(consentCmd)
}

func runConsentGrant(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")
	agent, _ := cmd.Flags().GetString("agent")
	scopesStr, _ := cmd.Flags().GetString("scopes")
	levelsStr, _ := cmd.Flags().GetString("levels")
	pending, _ := cmd.Flags().GetBool("pending")

	var scopes []model.Scope
	for _, s := range splitCSV(scopesStr) {
		scopes = append(scopes, model.Scope(s))
	}
	var levels []model.Sensitivity
	for _, l := range splitCSV(levelsStr) {
		levels = append(levels, model.Sensitivity(l))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	consent, err := s.CreateConsent(cmd.Context(), store.CreateConsentParams{
		UserID:            userID,
		AgentIdentifier:   agent,
		Scopes:            scopes,
		SensitivityLevels: levels,
	})
	if err != nil {
		exitErr("grant consent", err)
	}
	if !pending {
		consent, err = s.ActivateConsent(cmd.Context(), consent.ID)
		if err != nil {
			exitErr("activate consent", err)
		}
	}

	b, _ := json.MarshalIndent(consent, "", "  ")
	fmt.Println(string(b))
}

func runConsentRevoke(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("revoke consent", fmt.Errorf("consent id must be an integer, got %q", args[0]))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	consent, err := s.RevokeConsent(cmd.Context(), id)
	if err != nil {
		exitErr("revoke consent", err)
	}

	b, _ := json.MarshalIndent(consent, "", "  ")
	fmt.Println(string(b))
}

func runConsentList(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	consents, err := s.ListConsents(cmd.Context(), userID)
	if err != nil {
		exitErr("list consents", err)
	}

	b, _ := json.MarshalIndent(consents, "", "  ")
	fmt.Println(string(b))
}
