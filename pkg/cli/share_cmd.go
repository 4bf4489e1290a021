package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newShareCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Share user tables with groups (requires login)",
	}

	cmd.AddCommand(newShareGroupsCmd(s))
	cmd.AddCommand(newShareItemsCmd(s))
	cmd.AddCommand(newShareTableCmd(s))
	cmd.AddCommand(newShareAction(s, "stop <group> <table>", "Stop sharing a table with a group", 2,
		func(c *cobra.Command, client shareClient, args []string) (string, error) {
			return fmt.Sprintf("Stopped sharing %s with %s", args[1], args[0]),
				client.ShareTableStop(c.Context(), args[0], args[1])
		}))
	cmd.AddCommand(newShareGroupCreateCmd(s))
	cmd.AddCommand(newShareAction(s, "group-delete <group>", "Delete a group", 1,
		func(c *cobra.Command, client shareClient, args []string) (string, error) {
			return fmt.Sprintf("Deleted group %s", args[0]), client.ShareGroupDelete(c.Context(), args[0])
		}))
	cmd.AddCommand(newShareAction(s, "add-user <group> <user-id>", "Add a user to a group", 2,
		func(c *cobra.Command, client shareClient, args []string) (string, error) {
			return fmt.Sprintf("Added %s to %s", args[1], args[0]), client.ShareGroupAddUser(c.Context(), args[0], args[1])
		}))
	cmd.AddCommand(newShareAction(s, "remove-user <group> <user-id>", "Remove a user from a group", 2,
		func(c *cobra.Command, client shareClient, args []string) (string, error) {
			return fmt.Sprintf("Removed %s from %s", args[1], args[0]), client.ShareGroupDeleteUser(c.Context(), args[0], args[1])
		}))
	return cmd
}

type shareClient interface {
	ShareTableStop(ctx context.Context, groupName, tableName string) error
	ShareGroupDelete(ctx context.Context, groupName string) error
	ShareGroupAddUser(ctx context.Context, groupName, userID string) error
	ShareGroupDeleteUser(ctx context.Context, groupName, userID string) error
}

// newShareAction builds a command that runs one sharing call and prints
// the message it returns.
func newShareAction(s *session, use, short string, nargs int,
	run func(*cobra.Command, shareClient, []string) (string, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			msg, err := run(cmd, client, args)
			if err != nil {
				return err
			}
			return printStatus(cmd, msg, nil)
		},
	}
}

func newShareGroupsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the user's groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			groups, err := client.LoadGroups(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), groups)
			}
			rows := make([][]string, len(groups))
			for i, g := range groups {
				users := make([]string, len(g.Users))
				for j, u := range g.Users {
					users[j] = u.ID
				}
				rows[i] = []string{g.ID, g.Title, g.Description, strings.Join(users, ",")}
			}
			return printTable(cmd.OutOrStdout(), []string{"id", "title", "description", "users"}, rows)
		},
	}
}

func newShareItemsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "List the items the user shares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			items, err := client.LoadSharedItems(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), items)
			}
			rows := make([][]string, len(items))
			for i, it := range items {
				targets := make([]string, len(it.SharedTo))
				for j, st := range it.SharedTo {
					targets[j] = st.ID
				}
				rows[i] = []string{it.ID, it.Title, strconv.Itoa(len(targets)), strings.Join(targets, ",")}
			}
			return printTable(cmd.OutOrStdout(), []string{"id", "title", "shares", "shared to"}, rows)
		},
	}
}

func newShareTableCmd(s *session) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "table <group> <table>",
		Short: "Share a user table with a group, read only",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.ShareTable(cmd.Context(), args[0], args[1], description); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Shared %s with %s", args[1], args[0]), nil)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Description of the shared item")
	return cmd
}

func newShareGroupCreateCmd(s *session) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "group-create <group>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			if err := client.ShareGroupCreate(cmd.Context(), args[0], description); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Created group %s", args[0]), nil)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Group description")
	return cmd
}
