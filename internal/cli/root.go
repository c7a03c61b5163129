// Package cli defines the cobra command tree for pen.
package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evcraddock/pen/internal/client"
	"github.com/evcraddock/pen/internal/db"
	"github.com/evcraddock/pen/internal/logging"
)

var (
	flagFormat  string
	flagDB      string
	flagVerbose bool
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pen",
		Short:         "Shared notes with threaded comments",
		Long:          "Write notes, discuss them in threaded comments, and run the pen API server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default: ~/.config/pen/pen.db)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log client activity to stderr")

	root.AddCommand(
		newNotesCmd(),
		newNoteCmd(),
		newCommentsCmd(),
		newCommentCmd(),
		newUncommentCmd(),
		newRecountCmd(),
		newUsersCmd(),
		newKeysCmd(),
		newServeCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// openDB opens the SQLite database using the --db flag or default path.
func openDB() (*sql.DB, error) {
	path := flagDB
	if path == "" {
		var err error
		path, err = db.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return db.Open(path)
}

// newAPIClient creates an HTTP client for the pen API.
func newAPIClient() *client.Client {
	return client.New(getServerURL(), getAPIKey())
}

// cliLogger returns the logger for client-side commands: silent unless
// --verbose is set.
func cliLogger() *zap.Logger {
	if !flagVerbose {
		return zap.NewNop()
	}
	return logging.NewWriter(os.Stderr, true)
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// closeDB closes the database, logging any error to stderr.
func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
}
