package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abhisek/bandscore/internal/i18n"
	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/ledger"
	"github.com/abhisek/bandscore/internal/metrics"
	"github.com/abhisek/bandscore/internal/store"
)

// Dispatcher schedules the analysis of a completed session.
type Dispatcher interface {
	DispatchAnalysis(ctx context.Context, module ielts.Module, sessionID, lang string) error
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Service runs lifecycle transitions. Every transition is a compare-and-set
// on the session status, so concurrent callers cannot both succeed.
type Service struct {
	store    *store.Store
	dispatch Dispatcher
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a session service. dispatch may be nil, in which case
// completed sessions are only analysed on demand.
func NewService(s *store.Store, dispatch Dispatcher, opts Options) *Service {
	svc := &Service{
		store:    s,
		dispatch: dispatch,
		log:      opts.Log,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if svc.log == nil {
		svc.log = logrus.StandardLogger()
	}
	svc.log = svc.log.WithField("component", "session")
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// StartRequest opens an attempt. ExamID is optional.
type StartRequest struct {
	UserID string
	Module ielts.Module
	ExamID string
	Lang   string
}

// Start debits the module price and creates the session in one transaction.
// When no exam is given one of the module's exams is picked at random.
func (s *Service) Start(ctx context.Context, req StartRequest) (sess *ielts.Session, err error) {
	defer func() { s.metrics.Transition(string(req.Module), string(ielts.EventStart), err) }()

	m, err := ielts.ParseModule(string(req.Module))
	if err != nil {
		return nil, err
	}
	to, err := Transition(m, "", ielts.EventStart)
	if err != nil {
		return nil, err
	}

	q := s.store.Queries()
	examID := req.ExamID
	if examID == "" {
		if examID, err = q.RandomExamID(ctx, m); err != nil {
			return nil, err
		}
	} else {
		exam, err := q.GetExam(ctx, examID)
		if err != nil {
			return nil, err
		}
		if exam.Module != m {
			return nil, ielts.NotFound(string(m)+" exam", examID)
		}
	}

	now := s.now()
	sess = &ielts.Session{
		ID:        uuid.NewString(),
		Module:    m,
		UserID:    req.UserID,
		ExamID:    examID,
		Status:    to,
		Lang:      i18n.Code(req.Lang),
		StartTime: &now,
		CreatedAt: now,
	}

	var adm *ledger.Admission
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if adm, err = ledger.CheckAndDebit(ctx, q, req.UserID, m); err != nil {
			return err
		}
		sess.PricePaid = adm.Price
		return q.CreateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Debited(string(m), adm.Price)
	s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"module":     m,
		"exam_id":    examID,
		"price":      adm.Price,
		"balance":    adm.Balance,
	}).Info("session started")
	return sess, nil
}

// Cancel abandons an attempt. Tokens are not refunded.
func (s *Service) Cancel(ctx context.Context, sessionID, userID string) (*ielts.Session, error) {
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return s.move(ctx, sess, ielts.EventCancel, store.SessionUpdate{}, nil)
}

// Restart reopens a finished attempt: prior answers are deleted, start_time
// is reset and end_time cleared. Tokens are not debited again.
func (s *Service) Restart(ctx context.Context, sessionID, userID string) (*ielts.Session, error) {
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := store.SessionUpdate{StartTime: &now, ClearEnd: true}
	return s.move(ctx, sess, ielts.EventRestart, u, func(q *store.Queries) error {
		n, err := q.DeleteAnswers(ctx, sess.ID)
		if err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"session_id": sess.ID, "answers": n}).Debug("answers cleared")
		return nil
	})
}

// Expire times out a running attempt. It is called by the scheduler, not by
// the session owner.
func (s *Service) Expire(ctx context.Context, sessionID string) (*ielts.Session, error) {
	sess, err := s.store.Queries().GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.move(ctx, sess, ielts.EventExpire, store.SessionUpdate{}, nil)
}

// ExpireStale expires every STARTED session whose start_time is older than
// maxAge and returns how many were moved. Sessions that change state
// concurrently are skipped.
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	stale, err := s.store.Queries().ListSessions(ctx, store.SessionFilter{
		Status:        ielts.StatusStarted,
		StartedBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := s.move(ctx, &stale[i], ielts.EventExpire, store.SessionUpdate{}, nil)
		if errors.Is(err, ielts.ErrInvalidState) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.log.WithFields(logrus.Fields{"expired": expired, "cutoff": cutoff}).Info("stale sessions expired")
	}
	return expired, nil
}

// View is a session with its localized content and recorded answers.
type View struct {
	Session   ielts.Session
	ExamTitle string
	Parts     []PartView
	Answers   []ielts.Answer
}

// PartView is one localized part of the session's exam.
type PartView struct {
	ID        string
	Number    int
	Title     string
	Body      string
	MediaPath string
	Questions int
}

// Get returns the session if userID owns it. Content is resolved in lang,
// falling back to the session language.
func (s *Service) Get(ctx context.Context, sessionID, userID, lang string) (*View, error) {
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		lang = sess.Lang
	}

	q := s.store.Queries()
	exam, err := q.GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := q.ListAnswers(ctx, store.AnswerFilter{SessionID: sess.ID, UserID: userID})
	if err != nil {
		return nil, err
	}

	v := &View{
		Session:   *sess,
		ExamTitle: i18n.Resolve(exam, "title", lang),
		Answers:   answers,
	}
	for i := range exam.Parts {
		p := &exam.Parts[i]
		v.Parts = append(v.Parts, PartView{
			ID:        p.ID,
			Number:    p.Number,
			Title:     i18n.Resolve(p, "title", lang),
			Body:      i18n.Resolve(p, "body", lang),
			MediaPath: p.MediaPath,
			Questions: len(p.Questions),
		})
	}
	return v, nil
}

// owned loads a session and hides it from anyone but its owner.
func (s *Service) owned(ctx context.Context, sessionID, userID string) (*ielts.Session, error) {
	sess, err := s.store.Queries().GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ielts.NotFound("session", sessionID)
	}
	return sess, nil
}

// move applies ev to sess with a compare-and-set on its status. extra runs
// in the same transaction after the status change.
func (s *Service) move(ctx context.Context, sess *ielts.Session, ev ielts.Event, u store.SessionUpdate, extra func(q *store.Queries) error) (out *ielts.Session, err error) {
	defer func() { s.metrics.Transition(string(sess.Module), string(ev), err) }()

	to, err := Transition(sess.Module, sess.Status, ev)
	if err != nil {
		return nil, err
	}
	u.From = LegalFrom(sess.Module, ev)
	u.To = to

	err = s.store.InTx(ctx, func(q *store.Queries) error {
		ok, err := q.UpdateSessionStatus(ctx, sess.ID, u)
		if err != nil {
			return err
		}
		if !ok {
			return s.lostRace(ctx, q, sess, ev)
		}
		if extra != nil {
			return extra(q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated := *sess
	updated.Status = to
	if u.StartTime != nil {
		updated.StartTime = u.StartTime
	}
	if u.EndTime != nil {
		updated.EndTime = u.EndTime
	}
	if u.ClearEnd {
		updated.EndTime = nil
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"module":     sess.Module,
		"event":      ev,
		"from":       sess.Status,
		"to":         to,
	}).Info("session transition")
	return &updated, nil
}

// lostRace reports the state a concurrent writer left the session in.
func (s *Service) lostRace(ctx context.Context, q *store.Queries, sess *ielts.Session, ev ielts.Event) error {
	current, err := q.GetSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("re-read session %s: %w", sess.ID, err)
	}
	return &ielts.StateError{Module: sess.Module, From: current.Status, Event: ev}
}
