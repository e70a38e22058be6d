package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage memory subjects",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		Run:   runUserAdd,
	}
	addCmd.Flags().StringP("email", "e", "", "Email address (required, unique)")
	addCmd.Flags().StringP("name", "n", "", "Display name")
	addCmd.MarkFlagRequired("email")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Run:   runUserList,
	}

	userCmd.AddCommand(addCmd, listCmd)
	RootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) {
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	user, err := s.CreateUser(cmd.Context(), email, name)
	if err != nil {
		exitErr("add user", err)
	}

	b, _ := json.MarshalIndent(user, "", "  ")
	fmt.Println(string(b))
}

func runUserList(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	users, err := s.ListUsers(cmd.Context())
	if err != nil {
		exitErr("list users", err)
	}

	b, _ := json.MarshalIndent(users, "", "  ")
	fmt.Println(string(b))
}
