package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/evcraddock/pen/internal/auth"
	"github.com/evcraddock/pen/internal/comment"
	"github.com/evcraddock/pen/internal/note"
)

const timeLayout = "2006-01-02 15:04"

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes a header, a dashed separator and rows through a
// tabwriter.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	sep := make([]string, len(header))
	for i, h := range header {
		sep[i] = strings.Repeat("-", len(h))
	}
	for _, line := range append([][]string{header, sep}, rows...) {
		if _, err := fmt.Fprintln(tw, strings.Join(line, "\t")); err != nil {
			return fmt.Errorf("writing table: %w", err)
		}
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}
	return nil
}

func printNoteTable(w io.Writer, notes []*note.Note) error {
	if len(notes) == 0 {
		_, err := fmt.Fprintln(w, "No notes yet.")
		return err
	}

	rows := make([][]string, 0, len(notes))
	for _, n := range notes {
		rows = append(rows, []string{
			n.ID, truncate(n.Title, 40), fmt.Sprintf("%d", n.CommentCount), n.CreatedAt.Format(timeLayout),
		})
	}
	if err := printTable(w, []string{"ID", "TITLE", "COMMENTS", "CREATED"}, rows); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nTotal: %d notes\n", len(notes))
	return err
}

func printNoteSummary(w io.Writer, n *note.Note) {
	fmt.Fprintf(w, "%s\n", n.Title)
	fmt.Fprintf(w, "  ID:       %s\n", n.ID)
	fmt.Fprintf(w, "  Created:  %s\n", n.CreatedAt.Format(timeLayout))
	fmt.Fprintf(w, "  Comments: %d\n", n.CommentCount)
	if n.Body != "" {
		fmt.Fprintf(w, "\n%s\n", n.Body)
	}
}

// printThread writes a comment thread with replies indented under their
// parent.
func printThread(w io.Writer, nodes []*comment.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No comments.")
		return
	}

	for _, n := range nodes {
		printComment(w, &n.Comment, "")
		for _, r := range n.Replies {
			printComment(w, &r.Comment, "    ↳ ")
		}
		fmt.Fprintln(w)
	}
}

func printComment(w io.Writer, c *comment.Comment, prefix string) {
	indent := strings.Repeat(" ", len([]rune(prefix)))
	fmt.Fprintf(w, "%s[%s] %s (%s)\n", prefix, c.CreatedAt.Format(timeLayout), authorName(c), c.ID)
	for _, line := range strings.Split(c.Text, "\n") {
		fmt.Fprintf(w, "%s  %s\n", indent, line)
	}
}

func authorName(c *comment.Comment) string {
	if c.AuthorName != "" {
		return c.AuthorName
	}
	if c.AuthorID != "" {
		return c.AuthorID
	}
	return "anonymous"
}

func printCommentSingle(w io.Writer, c *comment.Comment) {
	kind := "Comment"
	if c.IsReply() {
		kind = "Reply"
	}
	fmt.Fprintf(w, "%s %s added.\n  %s\n", kind, c.ID, c.Text)
}

func printUserTable(w io.Writer, users []*auth.User) error {
	if len(users) == 0 {
		_, err := fmt.Fprintln(w, "No users.")
		return err
	}
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{u.ID, u.Email, u.Name})
	}
	return printTable(w, []string{"ID", "EMAIL", "NAME"}, rows)
}

func printKeyTable(w io.Writer, keys []auth.APIKey) error {
	if len(keys) == 0 {
		_, err := fmt.Fprintln(w, "No API keys.")
		return err
	}
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(timeLayout)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", k.ID), k.Name, k.KeyPrefix + "…", k.UserID, lastUsed,
		})
	}
	return printTable(w, []string{"ID", "NAME", "PREFIX", "USER", "LAST USED"}, rows)
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
