package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/report"
	"github.com/abhisek/bandscore/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, submit and manage test sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <module>",
	Short: "Debit the module price and start a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := userFlag(cmd)
		if err != nil {
			return err
		}
		examID, _ := cmd.Flags().GetString("exam")
		lang, _ := cmd.Flags().GetString("lang")

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		svc := session.NewService(e.store, nil, session.Options{Log: e.log})
		sess, err := svc.Start(cmd.Context(), session.StartRequest{
			UserID: user,
			Module: ielts.Module(args[0]),
			ExamID: examID,
			Lang:   lang,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Session:  %s\n", sess.ID)
		fmt.Printf("Module:   %s\n", sess.Module)
		fmt.Printf("Exam:     %s\n", sess.ExamID)
		fmt.Printf("Paid:     %d tokens\n", sess.PricePaid)
		return nil
	},
}

var sessionSubmitCmd = &cobra.Command{
	Use:   "submit <session-id>",
	Short: "Submit answers and queue the analysis",
	Long: "Submit answers from a JSON file (or - for stdin).\n\n" +
		"Listening/Reading: [{\"question_id\": \"...\", \"user_answer\": ...}]\n" +
		"Writing:           {\"task1\": \"...\", \"task2\": \"...\"}\n" +
		"Speaking:          [{\"part\": 1, \"transcript\": \"...\", \"media_path\": \"...\"}]",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := userFlag(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("answers")
		payload, err := readInput(path)
		if err != nil {
			return err
		}

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

		dispatch, closeDispatch, err := e.dispatcher(ctx)
		if err != nil {
			return err
		}
		defer closeDispatch()
		svc := session.NewService(e.store, dispatch, session.Options{Log: e.log})

		res, err := submit(cmd, svc, sess, user, payload)
		if err != nil {
			return err
		}

		fmt.Printf("Submitted %s session %s\n", sess.Module, sess.ID)
		fmt.Printf("Answered: %d / %d\n", res.Answered, res.Total)
		if !sess.Module.Subjective() {
			fmt.Printf("Score:    %.0f\n", res.TotalScore)
		}
		if res.Pending > 0 {
			fmt.Printf("Pending:  %d answers await grading\n", res.Pending)
		}
		return nil
	},
}

func submit(cmd *cobra.Command, svc *session.Service, sess *ielts.Session, user string, payload []byte) (*session.SubmitResult, error) {
	ctx := cmd.Context()
	switch sess.Module {
	case ielts.Listening, ielts.Reading:
		var answers []session.AnswerInput
		if err := json.Unmarshal(payload, &answers); err != nil {
			return nil, ielts.Invalid("answers", "%v", err)
		}
		if sess.Module == ielts.Listening {
			return svc.SubmitListening(ctx, sess.ID, user, answers)
		}
		return svc.SubmitReading(ctx, sess.ID, user, answers)
	case ielts.Writing:
		var sub session.WritingSubmission
		if err := json.Unmarshal(payload, &sub); err != nil {
			return nil, ielts.Invalid("answers", "%v", err)
		}
		return svc.SubmitWriting(ctx, sess.ID, user, sub)
	case ielts.Speaking:
		var answers []session.SpokenAnswer
		if err := json.Unmarshal(payload, &answers); err != nil {
			return nil, ielts.Invalid("answers", "%v", err)
		}
		return svc.SubmitSpeaking(ctx, sess.ID, user, answers)
	}
	return nil, fmt.Errorf("%w: %q", ielts.ErrUnknownTestType, sess.Module)
}

// transitionCmd builds cancel and restart, which only differ in the
// service call.
func transitionCmd(use, short string, run func(svc *session.Service, cmd *cobra.Command, id, user string) (*ielts.Session, error)) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := userFlag(cmd)
			if err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := session.NewService(e.store, nil, session.Options{Log: e.log})
			sess, err := run(svc, cmd, args[0], user)
			if err != nil {
				return err
			}
			fmt.Printf("Session %s is now %s\n", sess.ID, sess.Status)
			return nil
		},
	}
	c.Flags().String("user", "", "Owner of the session")
	return c
}

var sessionCancelCmd = transitionCmd("cancel", "Cancel a session (no refund)",
	func(svc *session.Service, cmd *cobra.Command, id, user string) (*ielts.Session, error) {
		return svc.Cancel(cmd.Context(), id, user)
	})

var sessionRestartCmd = transitionCmd("restart", "Restart a finished session without a new debit",
	func(svc *session.Service, cmd *cobra.Command, id, user string) (*ielts.Session, error) {
		return svc.Restart(cmd.Context(), id, user)
	})

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with its localized content and answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := userFlag(cmd)
		if err != nil {
			return err
		}
		lang, _ := cmd.Flags().GetString("lang")

		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		svc := session.NewService(e.store, nil, session.Options{Log: e.log})
		v, err := svc.Get(cmd.Context(), args[0], user, lang)
		if err != nil {
			return err
		}
		fmt.Println(report.Session(v))
		return nil
	},
}

var sessionExpireCmd = &cobra.Command{
	Use:   "expire [session-id]",
	Short: "Expire one session, or every session started too long ago",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		svc := session.NewService(e.store, nil, session.Options{Log: e.log})
		if len(args) == 1 {
			sess, err := svc.Expire(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s is now %s\n", sess.ID, sess.Status)
			return nil
		}

		maxAge, _ := cmd.Flags().GetDuration("older-than")
		if maxAge <= 0 {
			maxAge = e.cfg.Session.MaxDuration
		}
		n, err := svc.ExpireStale(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d sessions started more than %s ago.\n", n, maxAge)
		return nil
	},
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, fmt.Errorf("--answers is required")
	case "-":
		return io.ReadAll(os.Stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func init() {
	sessionStartCmd.Flags().String("user", "", "User taking the test")
	sessionStartCmd.Flags().String("exam", "", "Exam id (random exam of the module when empty)")
	sessionStartCmd.Flags().String("lang", "en", "Session language: en, ru or uz")

	sessionSubmitCmd.Flags().String("user", "", "Owner of the session")
	sessionSubmitCmd.Flags().StringP("answers", "a", "", "Answers JSON file, or - for stdin")

	sessionShowCmd.Flags().String("user", "", "Owner of the session")
	sessionShowCmd.Flags().String("lang", "", "Display language (defaults to the session language)")

	sessionExpireCmd.Flags().Duration("older-than", 0, "Expire sessions started before this age (defaults to BANDSCORE_SESSION_MAX_DURATION)")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionSubmitCmd)
	sessionCmd.AddCommand(sessionCancelCmd)
	sessionCmd.AddCommand(sessionRestartCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionExpireCmd)
}

