package score

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/event"
	"github.com/victornm/ladder/internal/prize"
	"github.com/victornm/ladder/internal/telemetry"
)

// averagePrecision is the number of decimal places kept for the average time per question, in seconds.
const averagePrecision = 3

// Records is the persistent side of the leaderboard.
type Records interface {
	UpdateRecord(ctx context.Context, playerID string, fn func(r *domain.LeaderboardRecord)) (*domain.LeaderboardRecord, error)
	GetRecord(ctx context.Context, playerID string) (*domain.LeaderboardRecord, error)
	Rank(ctx context.Context, bestScore int64) (int64, error)
}

type Config struct {
	EventBus *event.Bus
	Records  Records
	Now      func() time.Time
}

// Service aggregates finished sessions into per-player leaderboard records.
type Service struct {
	eb      *event.Bus
	records Records
	now     func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:      c.EventBus,
		records: c.Records,
		now:     c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// RecordOutcome folds a finished session into the player's record and returns the
// updated stats. Failures are logged and counted but never returned: a session's
// outcome stands whether or not the leaderboard could take it.
func (s *Service) RecordOutcome(ctx context.Context, o domain.Outcome) *domain.Stats {
	at := s.now()

	r, err := s.records.UpdateRecord(ctx, o.PlayerID, func(r *domain.LeaderboardRecord) {
		Fold(r, o, at)
	})
	if err != nil {
		slog.ErrorContext(ctx, "score: record outcome failed",
			"player_id", o.PlayerID,
			"money_won", o.MoneyWon,
			"error", err,
		)
		telemetry.ScoringFailures.Inc()
		return nil
	}

	stats, err := s.stats(ctx, r)
	if err != nil {
		slog.ErrorContext(ctx, "score: rank player failed", "player_id", o.PlayerID, "error", err)
		telemetry.ScoringFailures.Inc()
		return nil
	}

	s.eb.Publish(ctx, domain.EventStatsUpdated{
		PlayerID: o.PlayerID,
		Stats:    *stats,
	})

	return stats
}

type GetStatsRequest struct {
	PlayerID string
}

// GetStats returns the player's current stats. A player who never finished a game
// gets zero stats and rank 0.
func (s *Service) GetStats(ctx context.Context, req GetStatsRequest) (*domain.Stats, error) {
	r, err := s.records.GetRecord(ctx, req.PlayerID)
	if errors.HasCode(err, errors.CodeNotFound) {
		return &domain.Stats{AverageTimePerQuestion: decimal.Zero}, nil
	}
	if err != nil {
		return nil, errors.Upstream(err)
	}

	stats, err := s.stats(ctx, r)
	if err != nil {
		return nil, errors.Upstream(err)
	}

	return stats, nil
}

func (s *Service) stats(ctx context.Context, r *domain.LeaderboardRecord) (*domain.Stats, error) {
	rank, err := s.records.Rank(ctx, r.BestScore)
	if err != nil {
		return nil, err
	}

	return &domain.Stats{
		BestScore:              r.BestScore,
		TotalEarnings:          r.TotalEarnings,
		GamesPlayed:            r.GamesPlayed,
		GamesWon:               r.GamesWon,
		BestLevel:              r.BestLevel,
		TotalLifelinesUsed:     r.TotalLifelinesUsed,
		AverageTimePerQuestion: r.AverageTimePerQuestion,
		Rank:                   rank,
	}, nil
}

// Fold applies one outcome to a record. The average time per question is a running
// mean weighted by questions answered; an outcome without answered questions weighs 1.
func Fold(r *domain.LeaderboardRecord, o domain.Outcome, at time.Time) {
	if o.DisplayName != "" {
		r.DisplayName = o.DisplayName
	}

	r.TotalEarnings += o.MoneyWon
	r.GamesPlayed++
	if o.GameWon {
		r.GamesWon++
	}
	r.BestLevel = max(r.BestLevel, o.LevelReached)
	r.BestScore = max(r.BestScore, prize.Payout(o.LevelReached))
	r.TotalLifelinesUsed += int64(o.LifelinesUsed)

	weight := int64(o.QuestionsAnswered)
	if weight <= 0 {
		weight = 1
	}

	total := decimal.NewFromInt(r.QuestionsAnswered + weight)
	sum := r.AverageTimePerQuestion.Mul(decimal.NewFromInt(r.QuestionsAnswered)).
		Add(o.AvgTimePerQuestion.Mul(decimal.NewFromInt(weight)))

	r.AverageTimePerQuestion = sum.DivRound(total, averagePrecision)
	r.QuestionsAnswered += weight
	r.LastPlayedAt = at
}
