package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victornm/ladder/internal/catalog"
	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/event"
	"github.com/victornm/ladder/internal/lifeline"
	"github.com/victornm/ladder/internal/prize"
	"github.com/victornm/ladder/internal/telemetry"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Scorer folds a finished session into the player's leaderboard record.
// It must not fail the caller; a nil result means scoring did not happen.
type Scorer interface {
	RecordOutcome(ctx context.Context, o domain.Outcome) *domain.Stats
}

type Config struct {
	Store     Store
	Catalog   catalog.Catalog
	Provider  *catalog.Provider
	Lifelines *lifeline.Resolver
	Scorer    Scorer
	EventBus  *event.Bus

	// Optional, for tests.
	Now   func() time.Time
	NewID func() (string, error)
}

// Service is the game session state machine. Sessions move from active to
// exactly one of won, lost, quit or abandoned, and never leave a terminal state.
type Service struct {
	store     Store
	catalog   catalog.Catalog
	provider  *catalog.Provider
	lifelines *lifeline.Resolver
	scorer    Scorer
	eb        *event.Bus
	now       func() time.Time
	newID     func() (string, error)
}

func NewService(c Config) *Service {
	s := &Service{
		store:     c.Store,
		catalog:   c.Catalog,
		provider:  c.Provider,
		lifelines: c.Lifelines,
		scorer:    c.Scorer,
		eb:        c.EventBus,
		now:       c.Now,
		newID:     c.NewID,
	}

	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newSessionID
	}

	return s
}

func newSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	return id.String(), nil
}

type (
	GameSummary struct {
		ID    string
		Title string
		Theme string
	}

	// QuestionView is the player-facing form of a question; it never carries the correct answer.
	QuestionView struct {
		ID      string
		Text    string
		Options [4]string
		Level   int
		Stake   int64
	}
)

func questionView(q *domain.Question, level int) QuestionView {
	return QuestionView{
		ID:      q.ID,
		Text:    q.Text,
		Options: q.Options,
		Level:   level,
		Stake:   prize.Stake(level),
	}
}

type StartRequest struct {
	Player domain.Player
	// GameID is optional; the catalog's default game is used when empty.
	GameID string
}

type StartResponse struct {
	SessionID string
	Game      GameSummary
	Question  QuestionView
}

// Start abandons the player's active session, if any, and starts a new one at level 1.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	now := s.now()

	abandoned, err := s.store.AbandonActive(ctx, req.Player.ID, now)
	if err != nil {
		return nil, errors.Upstream(err)
	}
	if abandoned != nil {
		slog.InfoContext(ctx, "session: abandoned previous session",
			"session_id", abandoned.SessionID,
			"player_id", abandoned.PlayerID,
			"level", abandoned.CurrentLevel,
		)
		telemetry.SessionsEnded.WithLabelValues(string(domain.StatusAbandoned)).Inc()
		s.eb.Publish(ctx, domain.EventSessionEnded{Session: *abandoned})
	}

	g, err := s.resolveGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}

	q, ok, err := s.provider.QuestionForLevel(ctx, g, 1)
	if err != nil {
		return nil, errors.Upstream(err)
	}
	if !ok {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNoQuestionsAvailable),
			errors.WithMessagef("game %s has no level 1 questions", g.ID),
		)
	}

	id, err := s.newID()
	if err != nil {
		return nil, errors.Internal(err)
	}

	ss := &domain.Session{
		SessionID:         id,
		PlayerID:          req.Player.ID,
		DisplayName:       req.Player.DisplayName,
		GameID:            g.ID,
		CurrentLevel:      1,
		CurrentQuestionID: q.ID,
		QuestionPostedAt:  now,
		Status:            domain.StatusActive,
		StartedAt:         now,
	}
	if err := s.store.Create(ctx, ss); err != nil {
		return nil, errors.Upstream(err)
	}

	if err := s.catalog.RecordPlay(ctx, g.ID); err != nil {
		slog.WarnContext(ctx, "session: record game play failed", "game_id", g.ID, "error", err)
	}

	telemetry.SessionsStarted.Inc()
	s.eb.Publish(ctx, domain.EventSessionStarted{Session: *ss.Clone(), Game: *g})

	return &StartResponse{
		SessionID: ss.SessionID,
		Game:      GameSummary{ID: g.ID, Title: g.Title, Theme: g.Theme},
		Question:  questionView(q, 1),
	}, nil
}

func (s *Service) resolveGame(ctx context.Context, id string) (*domain.Game, error) {
	var (
		g   *domain.Game
		err error
	)
	if id == "" {
		g, err = s.catalog.GetDefaultGame(ctx)
	} else {
		g, err = s.catalog.GetGame(ctx, id)
	}
	if err != nil {
		return nil, errors.Upstream(err)
	}
	return g, nil
}

type AnswerRequest struct {
	SessionID string
	Player    domain.Player
	Answer    string
}

type AnswerResponse struct {
	Status  domain.Status
	Correct bool
	// Level and Stake describe the question now in play, or the final level on a terminal outcome.
	Level        int
	Stake        int64
	MoneyWon     int64
	NextQuestion *QuestionView
}

// SubmitAnswer checks the answer to the current question and moves the session up the ladder or ends it.
func (s *Service) SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	// Any non-empty answer is compared as is; a letter that is not the correct one loses.
	if req.Answer == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidAnswer),
			errors.WithMessagef("answer is required"),
		)
	}

	ss, err := s.loadActive(ctx, req.SessionID, req.Player)
	if err != nil {
		return nil, err
	}

	g, q, err := s.currentQuestion(ctx, ss)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ss.QuestionTimes = append(ss.QuestionTimes, max(now.Sub(ss.QuestionPostedAt), 0))
	level := ss.CurrentLevel

	if req.Answer != q.CorrectAnswer {
		money := prize.Secured(level)
		if err := s.finish(ctx, ss, domain.StatusLost, money, now); err != nil {
			return nil, err
		}
		return &AnswerResponse{Status: domain.StatusLost, Level: level, Stake: prize.Stake(level), MoneyWon: money}, nil
	}

	won := func() (*AnswerResponse, error) {
		money := prize.Payout(level)
		if err := s.finish(ctx, ss, domain.StatusWon, money, now); err != nil {
			return nil, err
		}
		return &AnswerResponse{Status: domain.StatusWon, Correct: true, Level: level, Stake: prize.Stake(level), MoneyWon: money}, nil
	}

	if level >= min(g.Levels(), prize.MaxLevel) {
		return won()
	}

	next, ok, err := s.provider.QuestionForLevel(ctx, g, level+1)
	if err != nil {
		return nil, errors.Upstream(err)
	}
	if !ok {
		// Running out of questions ends the ladder as a win.
		slog.InfoContext(ctx, "session: ladder exhausted", "session_id", ss.SessionID, "game_id", g.ID, "level", level)
		return won()
	}

	ss.CurrentLevel = level + 1
	ss.CurrentQuestionID = next.ID
	ss.QuestionPostedAt = now
	if err := s.store.Update(ctx, ss); err != nil {
		return nil, errors.Upstream(err)
	}

	view := questionView(next, ss.CurrentLevel)
	return &AnswerResponse{
		Status:       domain.StatusActive,
		Correct:      true,
		Level:        ss.CurrentLevel,
		Stake:        view.Stake,
		NextQuestion: &view,
	}, nil
}

type LifelineRequest struct {
	SessionID string
	Player    domain.Player
	Lifeline  domain.Lifeline
}

type LifelineResponse struct {
	Lifeline domain.Lifeline
	Result   any
}

// UseLifeline spends a lifeline and returns its effect on the current question.
// The lifeline is marked used and persisted before the effect is computed.
func (s *Service) UseLifeline(ctx context.Context, req LifelineRequest) (*LifelineResponse, error) {
	if !req.Lifeline.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonUnknownLifeline),
			errors.WithMessagef("unknown lifeline: %q", req.Lifeline),
		)
	}

	var ss *domain.Session
	for attempt := 0; ; attempt++ {
		var err error
		ss, err = s.loadActive(ctx, req.SessionID, req.Player)
		if err != nil {
			return nil, err
		}

		if ss.Lifelines.Used(req.Lifeline) {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(errors.ReasonLifelineAlreadyUsed),
				errors.WithMessagef("lifeline %s has already been used", req.Lifeline),
			)
		}

		ss.Lifelines.Mark(req.Lifeline)
		err = s.store.Update(ctx, ss)
		if err == nil {
			break
		}
		// A concurrent writer won; reload once so a duplicate request sees the lifeline as used.
		if attempt == 0 && errors.HasCode(err, errors.CodeAborted) {
			continue
		}
		return nil, errors.Upstream(err)
	}

	telemetry.LifelinesUsed.WithLabelValues(string(req.Lifeline)).Inc()

	_, q, err := s.currentQuestion(ctx, ss)
	if err != nil {
		return nil, err
	}

	res, err := s.lifelines.Resolve(req.Lifeline, *q)
	if err != nil {
		return nil, errors.Internal(err)
	}

	return &LifelineResponse{Lifeline: req.Lifeline, Result: res}, nil
}

type QuitRequest struct {
	SessionID string
	Player    domain.Player
}

type EndResponse struct {
	Status   domain.Status
	MoneyWon int64
}

// Quit ends the session keeping the secured floor of the level being attempted.
func (s *Service) Quit(ctx context.Context, req QuitRequest) (*EndResponse, error) {
	ss, err := s.loadActive(ctx, req.SessionID, req.Player)
	if err != nil {
		return nil, err
	}

	money := prize.Secured(ss.CurrentLevel)
	if err := s.finish(ctx, ss, domain.StatusQuit, money, s.now()); err != nil {
		return nil, err
	}

	return &EndResponse{Status: domain.StatusQuit, MoneyWon: money}, nil
}

type CompleteRequest struct {
	SessionID string
	Player    domain.Player
}

// CompleteExternally wins the session at its current level, for games whose
// ladder is played outside the per-question flow.
func (s *Service) CompleteExternally(ctx context.Context, req CompleteRequest) (*EndResponse, error) {
	ss, err := s.loadActive(ctx, req.SessionID, req.Player)
	if err != nil {
		return nil, err
	}

	money := prize.Payout(ss.CurrentLevel)
	if err := s.finish(ctx, ss, domain.StatusWon, money, s.now()); err != nil {
		return nil, err
	}

	return &EndResponse{Status: domain.StatusWon, MoneyWon: money}, nil
}

type HistoryRequest struct {
	Player domain.Player
	Limit  int
}

type HistoryEntry struct {
	SessionID    string
	GameID       string
	Date         time.Time
	Status       domain.Status
	MoneyWon     int64
	LevelReached int
	// Duration is zero while the session is still active.
	Duration time.Duration
}

// History lists the player's most recent sessions.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]HistoryEntry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	ss, err := s.store.ListByPlayer(ctx, req.Player.ID, limit)
	if err != nil {
		return nil, errors.Upstream(err)
	}

	entries := make([]HistoryEntry, 0, len(ss))
	for _, x := range ss {
		e := HistoryEntry{
			SessionID:    x.SessionID,
			GameID:       x.GameID,
			Date:         x.StartedAt,
			Status:       x.Status,
			MoneyWon:     x.MoneyWon,
			LevelReached: x.CurrentLevel,
		}
		if !x.EndedAt.IsZero() {
			e.Date = x.EndedAt
			e.Duration = x.EndedAt.Sub(x.StartedAt)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// loadActive returns the caller's active session. Sessions of other players and
// finished sessions are reported as not found, so their existence is not revealed.
func (s *Service) loadActive(ctx context.Context, id string, p domain.Player) (*domain.Session, error) {
	ss, err := s.store.Get(ctx, id)
	if errors.HasCode(err, errors.CodeNotFound) {
		return nil, sessionNotFound(id)
	}
	if err != nil {
		return nil, errors.Upstream(err)
	}

	if ss.PlayerID != p.ID {
		slog.WarnContext(ctx, "session: access denied", "session_id", id, "player_id", p.ID)
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonSessionNotFound),
			errors.WithMessagef("no active game session found: %s", id),
			errors.WithCause(errors.New(errors.CodePermissionDenied)),
		)
	}

	if !ss.Active() {
		return nil, sessionNotFound(id)
	}

	return ss, nil
}

func (s *Service) currentQuestion(ctx context.Context, ss *domain.Session) (*domain.Game, *domain.Question, error) {
	g, err := s.catalog.GetGame(ctx, ss.GameID)
	if err != nil {
		return nil, nil, errors.Upstream(err)
	}

	q, err := s.provider.QuestionByID(ctx, g, ss.CurrentQuestionID)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			slog.ErrorContext(ctx, "session: current question does not resolve",
				"session_id", ss.SessionID,
				"game_id", g.ID,
				"question_id", ss.CurrentQuestionID,
			)
		}
		return nil, nil, errors.Upstream(err)
	}

	return g, q, nil
}

// finish persists the terminal transition and then scores it. Scoring runs
// detached from the request's cancellation and never fails the transition.
func (s *Service) finish(ctx context.Context, ss *domain.Session, status domain.Status, money int64, at time.Time) error {
	ss.Status = status
	ss.EndedAt = at
	ss.MoneyWon = money

	if err := s.store.Update(ctx, ss); err != nil {
		return errors.Upstream(err)
	}

	slog.InfoContext(ctx, "session: ended",
		"session_id", ss.SessionID,
		"player_id", ss.PlayerID,
		"status", status,
		"level", ss.CurrentLevel,
		"money_won", money,
	)
	telemetry.SessionsEnded.WithLabelValues(string(status)).Inc()
	s.eb.Publish(ctx, domain.EventSessionEnded{Session: *ss.Clone()})

	s.scorer.RecordOutcome(context.WithoutCancel(ctx), outcome(ss))
	return nil
}

func outcome(ss *domain.Session) domain.Outcome {
	won := ss.Status == domain.StatusWon

	reached := ss.CurrentLevel
	if !won {
		// the level being attempted was not cleared
		reached = max(0, ss.CurrentLevel-1)
	}

	return domain.Outcome{
		PlayerID:           ss.PlayerID,
		DisplayName:        ss.DisplayName,
		MoneyWon:           ss.MoneyWon,
		LevelReached:       reached,
		GameWon:            won,
		LifelinesUsed:      ss.Lifelines.Count(),
		AvgTimePerQuestion: decimal.NewFromFloat(ss.AverageQuestionTime().Seconds()).Round(3),
		QuestionsAnswered:  len(ss.QuestionTimes),
	}
}
