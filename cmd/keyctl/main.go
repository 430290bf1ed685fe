// keyctl administers the API keys the generation service admits
// requests with. It talks directly to the key store, so it needs the
// same DATABASE_URL the server runs with.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casgen-dev/casgen/internal/store"
)

// Exit codes: 0 success, 2 invalid arguments, 3 not found, 4 conflict,
// 1 everything else.
const (
	exitUnexpected = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
)

var errValidation = errors.New("invalid arguments")

var (
	databaseURL  string
	outputFormat string

	st store.Store
)

var rootCmd = &cobra.Command{
	Use:   "keyctl",
	Short: "Administer casgen API keys",
	Long: `keyctl manages the API keys the casgen service admits requests with.

Key secrets are printed exactly once, at create or rotate time; only
their SHA-256 hash is persisted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "table", "json", "csv":
		default:
			return fmt.Errorf("%w: unknown format %q (want table, json or csv)", errValidation, outputFormat)
		}

		url := databaseURL
		if url == "" {
			url = os.Getenv("DATABASE_URL")
		}
		if url == "" {
			return fmt.Errorf("%w: no database configured; set --database-url or DATABASE_URL", errValidation)
		}

		pg, err := store.NewPostgres(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("connect to store: %w", err)
		}
		st = pg
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json or csv")

	rootCmd.AddCommand(
		createCmd, listCmd, showCmd,
		activateCmd, deactivateCmd, deleteCmd,
		usageCmd, statsCmd, limitsCmd,
		extendCmd, rotateCmd, cleanupCmd,
	)

	err := rootCmd.Execute()
	if st != nil {
		st.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errValidation):
		return exitValidation
	case errors.Is(err, store.ErrNotFound):
		return exitNotFound
	case errors.Is(err, store.ErrDuplicate):
		return exitConflict
	default:
		return exitUnexpected
	}
}
