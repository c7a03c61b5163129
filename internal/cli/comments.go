package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evcraddock/pen/internal/comment"
	"github.com/evcraddock/pen/internal/thread"
)

// stderrAlerts shows controller alerts on the terminal.
type stderrAlerts struct {
	w io.Writer
}

func (a stderrAlerts) Alert(title, message string) {
	fmt.Fprintf(a.w, "%s: %s\n", title, message)
}

// openThread loads a note's comment thread through the API.
func openThread(cmd *cobra.Command, noteID string) (*thread.Controller, error) {
	c := newAPIClient()
	ctrl := thread.New(thread.Deps{
		Store:     c,
		Counter:   c,
		Identity:  c,
		Alerts:    stderrAlerts{w: cmd.ErrOrStderr()},
		Logger:    cliLogger(),
		Reconcile: reconcileEnabled(),
	})
	if err := ctrl.Load(cmd.Context(), noteID); err != nil {
		ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

func newCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <note>",
		Short: "Show a note's comment thread",
		Long:  "Show all comments on a note, newest first, with replies under the comment they answer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := openThread(cmd, args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()

			nodes := ctrl.Thread()
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), nodes)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Comments on %s (%d):\n\n", args[0], comment.Count(nodes))
			printThread(cmd.OutOrStdout(), nodes)
			return nil
		},
	}
}

func newCommentCmd() *cobra.Command {
	var replyTo string

	cmd := &cobra.Command{
		Use:   `comment <note> "text"`,
		Short: "Comment on a note",
		Long:  "Add a comment to a note, or reply to a top-level comment with --reply-to.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return fmt.Errorf("comment text is required")
			}

			ctrl, err := openThread(cmd, args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()

			created, err := ctrl.Post(cmd.Context(), text, replyTo)
			if errors.Is(err, thread.ErrNotAuthenticated) {
				return fmt.Errorf("not logged in; run 'pen login' first")
			}
			if err != nil {
				return err
			}

			if isJSON() {
				return printJSON(cmd.OutOrStdout(), created)
			}
			printCommentSingle(cmd.OutOrStdout(), created)
			return nil
		},
	}

	cmd.Flags().StringVar(&replyTo, "reply-to", "", "ID of the top-level comment to reply to")
	return cmd
}

func newUncommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uncomment <note> <comment>",
		Short: "Delete one of your comments",
		Long:  "Delete a comment you wrote. Deleting a top-level comment also deletes its replies.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			noteID, commentID := args[0], args[1]

			ctrl, err := openThread(cmd, noteID)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.Delete(cmd.Context(), commentID, isReplyIn(ctrl.Thread(), commentID)); err != nil {
				return err
			}

			if isJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": commentID, "removed": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Comment %s deleted.\n", commentID)
			return nil
		},
	}
}

// isReplyIn reports whether id is a reply in the thread.
func isReplyIn(nodes []*comment.Node, id string) bool {
	for _, n := range nodes {
		for _, r := range n.Replies {
			if r.ID == id {
				return true
			}
		}
	}
	return false
}

func newRecountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recount <note>",
		Short: "Recompute a note's comment count",
		Long:  "Recompute the stored comment count of a note from its comments.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := newAPIClient().SyncCommentCount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": args[0], "comment_count": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note %s has %d comments.\n", args[0], n)
			return nil
		},
	}
}
