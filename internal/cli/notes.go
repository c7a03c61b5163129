package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newNotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes",
		Short: "List notes",
		Long:  "List all notes on the server, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, err := newAPIClient().ListNotes(cmd.Context())
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), notes)
			}
			return printNoteTable(cmd.OutOrStdout(), notes)
		},
	}
}

func newNoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create, show or remove a note",
	}
	cmd.AddCommand(newNoteAddCmd(), newNoteShowCmd(), newNoteRemoveCmd())
	return cmd
}

func newNoteAddCmd() *cobra.Command {
	var body string

	cmd := &cobra.Command{
		Use:   `add "title"`,
		Short: "Create a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			if title == "" {
				return fmt.Errorf("note title is required")
			}

			n, err := newAPIClient().AddNote(cmd.Context(), title, body)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note %s created.\n", n.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&body, "body", "", "note body")
	return cmd
}

func newNoteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <note>",
		Short: "Show a note and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newAPIClient().GetNote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			printNoteSummary(out, resp.Note)
			fmt.Fprintln(out)
			printThread(out, resp.Comments)
			return nil
		},
	}
}

func newNoteRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <note>",
		Aliases: []string{"remove"},
		Short:   "Remove a note and all its comments",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().DeleteNote(cmd.Context(), args[0]); err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": args[0], "removed": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note %s removed.\n", args[0])
			return nil
		},
	}
}
