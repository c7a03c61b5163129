package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/evcraddock/pen/internal/auth"
)

// Admin commands work on the local database directly (--db); they are
// meant to be run on the server host.

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users in the local database",
	}
	cmd.AddCommand(newUsersAddCmd(), newUsersListCmd(), newUsersRemoveCmd())
	return cmd
}

func newUsersAddCmd() *cobra.Command {
	var name, avatar string

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			u, err := auth.NewUserStore(database).Add(cmd.Context(), args[0], name, avatar)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), u)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s added (%s).\n", u.Email, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	return cmd
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			users, err := auth.NewUserStore(database).List(cmd.Context())
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), users)
			}
			return printUserTable(cmd.OutOrStdout(), users)
		},
	}
}

func newUsersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <user-id>",
		Short: "Remove a user with their notes, comments and keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			if err := auth.NewUserStore(database).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s removed.\n", args[0])
			return nil
		},
	}
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys in the local database",
	}
	cmd.AddCommand(newKeysCreateCmd(), newKeysListCmd(), newKeysRemoveCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create an API key for a user",
		Long:  "Create an API key for the user with the given email. The key is printed once.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			u, err := auth.NewUserStore(database).GetByEmail(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("finding user %s: %w", args[0], err)
			}

			raw, key, err := auth.NewAPIKeyStore(database).Create(cmd.Context(), name, u.ID)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"key": raw, "id": key.ID, "user_id": u.ID})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key for %s (shown once):\n\n  %s\n", u.Email, raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "cli", "label for the key")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			keys, err := auth.NewAPIKeyStore(database).List(cmd.Context())
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), keys)
			}
			return printKeyTable(cmd.OutOrStdout(), keys)
		},
	}
}

func newKeysRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key ID: %s", args[0])
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)

			if err := auth.NewAPIKeyStore(database).Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %d revoked.\n", id)
			return nil
		},
	}
}
