package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Opening the store migrates it.
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		fmt.Printf("Database schema is up to date (%s).\n", e.store.Dialect())
		return nil
	},
}
