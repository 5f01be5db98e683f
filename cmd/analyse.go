package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/report"
)

var analyseCmd = &cobra.Command{
	Use:     "analyse <session-id>",
	Aliases: []string{"analyze"},
	Short:   "Show the analysis of a completed session, producing it if needed",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := userFlag(cmd)
		if err != nil {
			return err
		}
		stored, _ := cmd.Flags().GetBool("stored")

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		sess, err := e.store.Queries().GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		if sess.UserID != user {
			return ielts.NotFound("session", args[0])
		}

		orch := e.newOrchestrator(ctx, nil)
		var analyses []ielts.Analysis
		if stored {
			analyses, err = orch.Get(ctx, sess.Module, sess.ID, user)
			if errors.Is(err, ielts.ErrNotReady) {
				fmt.Println("Analysis is not ready yet.")
				return nil
			}
		} else {
			analyses, err = orch.Analyse(ctx, sess.Module, sess.ID)
		}
		if len(analyses) > 0 {
			fmt.Println(report.Analyses(sess.Module, analyses))
		}
		return err
	},
}

func init() {
	analyseCmd.Flags().String("user", "", "Owner of the session")
	analyseCmd.Flags().Bool("stored", false, "Only show an existing analysis, never run the grader")
}
