package leaderboard

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/event"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
	defaultTopN            = 100
	broadcastSize          = 20
	maxUpdateRetries       = 5

	// dirtyTTL bounds, in publish intervals, how long a change marked by a non-owner can wait.
	dirtyTTL     = 10
	flushTimeout = 5 * time.Second
)

type Config struct {
	EventBus        *event.Bus
	Redis           redis.UniversalClient
	Prefix          string
	TopN            int
	PublishInterval time.Duration
}

// Service stores player records in redis: one hash per player plus a sorted set
// of players by best score, which backs ranking and the top-N board.
type Service struct {
	eb              *event.Bus
	redis           redis.UniversalClient
	prefix          string
	topN            int
	publishInterval time.Duration

	mu       sync.Mutex
	trailing *time.Timer
	flushing sync.WaitGroup
	closed   bool
}

func NewService(c Config) *Service {
	s := &Service{
		eb:              c.EventBus,
		redis:           c.Redis,
		prefix:          c.Prefix,
		topN:            c.TopN,
		publishInterval: c.PublishInterval,
	}

	if s.topN <= 0 {
		s.topN = defaultTopN
	}
	if s.publishInterval <= 0 {
		s.publishInterval = defaultPublishInterval
	}

	s.eb.Subscribe(domain.EventNameStatsUpdated, func(ctx context.Context, e event.Event) error {
		return s.HandleStatsUpdated(ctx, e.(domain.EventStatsUpdated))
	})

	return s
}

// record is the redis hash layout of a domain.LeaderboardRecord.
type record struct {
	PlayerID           string `redis:"player_id"`
	DisplayName        string `redis:"display_name"`
	TotalEarnings      int64  `redis:"total_earnings"`
	BestScore          int64  `redis:"best_score"`
	GamesPlayed        int64  `redis:"games_played"`
	GamesWon           int64  `redis:"games_won"`
	BestLevel          int    `redis:"best_level"`
	TotalLifelinesUsed int64  `redis:"total_lifelines_used"`
	AvgTimePerQuestion string `redis:"avg_time_per_question"`
	QuestionsAnswered  int64  `redis:"questions_answered"`
	LastPlayedAt       int64  `redis:"last_played_at"`
}

func fromDomain(r *domain.LeaderboardRecord) record {
	var last int64
	if !r.LastPlayedAt.IsZero() {
		last = r.LastPlayedAt.UnixMilli()
	}

	return record{
		PlayerID:           r.PlayerID,
		DisplayName:        r.DisplayName,
		TotalEarnings:      r.TotalEarnings,
		BestScore:          r.BestScore,
		GamesPlayed:        r.GamesPlayed,
		GamesWon:           r.GamesWon,
		BestLevel:          r.BestLevel,
		TotalLifelinesUsed: r.TotalLifelinesUsed,
		AvgTimePerQuestion: r.AverageTimePerQuestion.String(),
		QuestionsAnswered:  r.QuestionsAnswered,
		LastPlayedAt:       last,
	}
}

func (r record) toDomain() (*domain.LeaderboardRecord, error) {
	avg := decimal.Zero
	if r.AvgTimePerQuestion != "" {
		var err error
		if avg, err = decimal.NewFromString(r.AvgTimePerQuestion); err != nil {
			return nil, fmt.Errorf("parse average time of %s: %w", r.PlayerID, err)
		}
	}

	var last time.Time
	if r.LastPlayedAt > 0 {
		last = time.UnixMilli(r.LastPlayedAt).UTC()
	}

	return &domain.LeaderboardRecord{
		PlayerID:               r.PlayerID,
		DisplayName:            r.DisplayName,
		TotalEarnings:          r.TotalEarnings,
		BestScore:              r.BestScore,
		GamesPlayed:            r.GamesPlayed,
		GamesWon:               r.GamesWon,
		BestLevel:              r.BestLevel,
		TotalLifelinesUsed:     r.TotalLifelinesUsed,
		AverageTimePerQuestion: avg,
		QuestionsAnswered:      r.QuestionsAnswered,
		LastPlayedAt:           last,
	}, nil
}

// GetRecord returns the player's record, or NotFound if they never finished a game.
func (s *Service) GetRecord(ctx context.Context, playerID string) (*domain.LeaderboardRecord, error) {
	return s.getRecord(ctx, s.redis, playerID)
}

func (s *Service) getRecord(ctx context.Context, c redis.Cmdable, playerID string) (*domain.LeaderboardRecord, error) {
	cmd := c.HGetAll(ctx, s.getRecordKey(playerID))
	if err := cmd.Err(); err != nil {
		return nil, fmt.Errorf("get record %s: %w", playerID, err)
	}

	if len(cmd.Val()) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no leaderboard record for player %s", playerID))
	}

	var r record
	if err := cmd.Scan(&r); err != nil {
		return nil, fmt.Errorf("scan record %s: %w", playerID, err)
	}

	return r.toDomain()
}

// UpdateRecord loads the player's record, or a fresh one, applies fn and writes it back
// together with the player's best score. Concurrent updates of the same player are retried.
func (s *Service) UpdateRecord(ctx context.Context, playerID string, fn func(r *domain.LeaderboardRecord)) (*domain.LeaderboardRecord, error) {
	key := s.getRecordKey(playerID)

	var updated *domain.LeaderboardRecord
	txf := func(tx *redis.Tx) error {
		r, err := s.getRecord(ctx, tx, playerID)
		if errors.HasCode(err, errors.CodeNotFound) {
			r, err = &domain.LeaderboardRecord{PlayerID: playerID}, nil
		}
		if err != nil {
			return err
		}

		fn(r)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fromDomain(r))
			pipe.ZAdd(ctx, s.getLeaderboardKey(), redis.Z{
				Score:  float64(r.BestScore),
				Member: playerID,
			})
			return nil
		})
		if err != nil {
			return err
		}

		updated = r
		return nil
	}

	for range maxUpdateRetries {
		err := s.redis.Watch(ctx, txf, key)
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update record %s: %w", playerID, err)
		}
		return updated, nil
	}

	return nil, errors.New(errors.CodeAborted,
		errors.WithMessagef("update record %s: too many concurrent writers", playerID),
	)
}

// Rank returns 1 plus the number of players with a strictly higher best score.
func (s *Service) Rank(ctx context.Context, bestScore int64) (int64, error) {
	n, err := s.redis.ZCount(ctx, s.getLeaderboardKey(), "("+strconv.FormatInt(bestScore, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("rank: %w", err)
	}
	return n + 1, nil
}

type GetLeaderboardRequest struct {
	Limit int
}

// GetLeaderboard returns the top records ordered by best score, highest first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) ([]domain.LeaderboardRecord, error) {
	limit := req.Limit
	if limit <= 0 || limit > s.topN {
		limit = s.topN
	}

	ids, err := s.redis.ZRevRange(ctx, s.getLeaderboardKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(ids) == 0 {
		return []domain.LeaderboardRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.getRecordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get leaderboard records: %w", err)
	}

	entries := make([]domain.LeaderboardRecord, 0, len(ids))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			// ranked but the hash is gone; skip rather than fail the board
			continue
		}

		var r record
		if err := cmd.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan record %s: %w", ids[i], err)
		}

		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}

	return entries, nil
}

// HandleStatsUpdated schedules a leaderboard broadcast after a player's record changed.
func (s *Service) HandleStatsUpdated(ctx context.Context, e domain.EventStatsUpdated) error {
	return s.schedulePublishLeaderboard(ctx)
}

// schedulePublishLeaderboard publishes the top of the board at most once per interval
// plus once at the end of it. Many records change in a short time when games end
// together, so the SETNX key collapses those changes across all instances. The
// instance that won the window owns the trailing publish; the others only mark the
// board dirty so the last change of the window still goes out.
func (s *Service) schedulePublishLeaderboard(ctx context.Context) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(), time.Now().UnixMilli(), s.publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		if err := s.redis.Set(ctx, s.getLeaderboardDirtyKey(), 1, dirtyTTL*s.publishInterval).Err(); err != nil {
			return fmt.Errorf("mark dirty: %w", err)
		}
		return nil
	}

	if err := s.publishLeaderboard(ctx); err != nil {
		return err
	}

	s.armTrailing()
	return nil
}

func (s *Service) armTrailing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.trailing != nil {
		return
	}

	s.flushing.Add(1)
	s.trailing = time.AfterFunc(s.publishInterval, func() {
		defer s.flushing.Done()

		s.mu.Lock()
		s.trailing = nil
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()

		published, err := s.flushDirty(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "leaderboard: trailing publish failed", "error", err)
			return
		}

		// keep draining while updates keep coming
		if published {
			s.armTrailing()
		}
	})
}

// flushDirty publishes the board if some change was marked since the last publish.
func (s *Service) flushDirty(ctx context.Context) (bool, error) {
	n, err := s.redis.Del(ctx, s.getLeaderboardDirtyKey()).Result()
	if err != nil {
		return false, fmt.Errorf("clear dirty: %w", err)
	}

	if n == 0 {
		return false, nil
	}

	return true, s.publishLeaderboard(ctx)
}

// Close stops the trailing publish timer and publishes any change it was still waiting on.
// Call it before stopping the event bus.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.trailing != nil && s.trailing.Stop() {
		s.flushing.Done()
	}
	s.trailing = nil
	s.mu.Unlock()

	s.flushing.Wait()

	_, err := s.flushDirty(ctx)
	return err
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	entries, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{Limit: broadcastSize})
	if err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Entries: entries,
	})

	return nil
}

func (s *Service) getRecordKey(playerID string) string {
	return fmt.Sprintf("%s:player:%s", s.prefix, playerID)
}

func (s *Service) getLeaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}

func (s *Service) getLeaderboardTimeKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}

func (s *Service) getLeaderboardDirtyKey() string {
	return fmt.Sprintf("%s:leaderboard:dirty", s.prefix)
}
