package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/bandscore/internal/content"
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage exams, pricing and users",
}

var contentImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import test types, tariffs, users and exams from JSON (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readInput(args[0])
		if err != nil {
			return err
		}
		doc, err := content.Decode(bytes.NewReader(payload))
		if err != nil {
			return err
		}

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		sum, err := content.Import(cmd.Context(), e.store, doc, e.log)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d test types, %d tariffs, %d users, %d exams (%d questions).\n",
			sum.TestTypes, sum.Tariffs, sum.Users, sum.Exams, sum.Questions)
		return nil
	},
}

func init() {
	contentCmd.AddCommand(contentImportCmd)
}
