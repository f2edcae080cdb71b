package leaderboard_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/event"
	"github.com/victornm/ladder/internal/leaderboard"
)

func TestService_UpdateRecord(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()

	playedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.UpdateRecord(ctx, "p1", func(r *domain.LeaderboardRecord) {
		r.DisplayName = "Alice"
		r.TotalEarnings += 1000
		r.BestScore = 1000
		r.GamesPlayed++
		r.BestLevel = 5
		r.AverageTimePerQuestion = decimal.RequireFromString("4.25")
		r.QuestionsAnswered = 4
		r.LastPlayedAt = playedAt
	})
	require.NoError(t, err)

	updated, err := s.UpdateRecord(ctx, "p1", func(r *domain.LeaderboardRecord) {
		r.TotalEarnings += 100
		r.GamesPlayed++
		r.GamesWon++
	})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	assert.Equal(t, "p1", got.PlayerID)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, int64(1100), got.TotalEarnings)
	assert.Equal(t, int64(2), got.GamesPlayed)
	assert.Equal(t, int64(1), got.GamesWon)
	assert.Equal(t, 5, got.BestLevel)
	assert.True(t, decimal.RequireFromString("4.25").Equal(got.AverageTimePerQuestion))
	assert.Equal(t, playedAt, got.LastPlayedAt)
}

func TestService_UpdateRecord_Concurrent(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()

	const n = 4

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.UpdateRecord(ctx, "p1", func(r *domain.LeaderboardRecord) {
				r.GamesPlayed++
			})
		}()
	}
	wg.Wait()

	succeeded := int64(0)
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.HasCode(err, errors.CodeAborted), "only contention may fail an update: %v", err)
	}

	got, err := s.GetRecord(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, succeeded, got.GamesPlayed, "no update may be lost")
}

func TestService_GetRecord_NotFound(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.GetRecord(context.Background(), "nobody")
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestService_Rank(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()

	for id, best := range map[string]int64{"p1": 100, "p2": 500, "p3": 500, "p4": 1000} {
		_, err := s.UpdateRecord(ctx, id, func(r *domain.LeaderboardRecord) { r.BestScore = best })
		require.NoError(t, err)
	}

	tests := map[string]struct {
		bestScore int64
		want      int64
	}{
		"top score ranks first": {bestScore: 1000, want: 1},
		"ties share a rank":     {bestScore: 500, want: 2},
		"lowest recorded score": {bestScore: 100, want: 4},
		"score below everyone":  {bestScore: 0, want: 5},
		"score above everyone":  {bestScore: 1000000, want: 1},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.Rank(ctx, tt.bestScore)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_GetLeaderboard(t *testing.T) {
	s, _ := makeService(t, withTopN(3))
	ctx := context.Background()

	for i, best := range []int64{300, 1000, 100, 500} {
		id := fmt.Sprintf("p%d", i)
		_, err := s.UpdateRecord(ctx, id, func(r *domain.LeaderboardRecord) {
			r.DisplayName = "Player " + id
			r.BestScore = best
		})
		require.NoError(t, err)
	}

	tests := map[string]struct {
		limit int
		want  []int64
	}{
		"default limit is the configured top N": {limit: 0, want: []int64{1000, 500, 300}},
		"explicit limit":                        {limit: 2, want: []int64{1000, 500}},
		"limit above top N is capped":           {limit: 50, want: []int64{1000, 500, 300}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			entries, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Limit: tt.limit})
			require.NoError(t, err)

			var got []int64
			for _, e := range entries {
				got = append(got, e.BestScore)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_GetLeaderboard_Empty(t *testing.T) {
	s, _ := makeService(t)

	entries, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			// gaps between consecutive stats.updated events
			gaps []time.Duration
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated with the top records after receiving stats.updated": {
			arrange: func() inputs {
				return inputs{gaps: []time.Duration{0}}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Len(t, out.publishedEvents[0].Entries, 1)
				require.Equal(t, "p1", out.publishedEvents[0].Entries[0].PlayerID)
			},
		},

		"should publish a leading and a trailing event for stats.updated events within the publish interval": {
			arrange: func() inputs {
				return inputs{gaps: []time.Duration{0, 50 * time.Millisecond, 50 * time.Millisecond}}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated events")
			},
		},

		"should publish 2 events for stats.updated events further apart than the publish interval": {
			arrange: func() inputs {
				return inputs{gaps: []time.Duration{0, time.Second}}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated events")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s, rs := makeService(t, withEventBus(eb))
			ctx := context.Background()

			_, err := s.UpdateRecord(ctx, "p1", func(r *domain.LeaderboardRecord) { r.BestScore = 100 })
			require.NoError(t, err)

			for _, gap := range in.gaps {
				rs.FastForward(gap)
				err := s.HandleStatsUpdated(ctx, domain.EventStatsUpdated{PlayerID: "p1"})
				require.NoError(t, err)
			}

			require.NoError(t, s.Close(ctx))
			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func TestService_PublishLeaderboardUpdated_TrailingEdge(t *testing.T) {
	t.Run("last change within the interval is published on close", func(t *testing.T) {
		eb, events := collectLeaderboardEvents()
		s, _ := makeService(t, withEventBus(eb), withPublishInterval(time.Minute))
		ctx := context.Background()

		updateAndNotify(t, s, "a", 100)
		updateAndNotify(t, s, "b", 500)

		require.NoError(t, s.Close(ctx))
		eb.Stop()

		got := events()
		require.Len(t, got, 2)
		assert.Equal(t, []string{"a"}, playerIDs(got[0]))
		assert.Equal(t, []string{"b", "a"}, playerIDs(got[1]), "trailing event should carry both records")
	})

	t.Run("last change within the interval is published when the interval ends", func(t *testing.T) {
		eb, events := collectLeaderboardEvents()
		s, _ := makeService(t, withEventBus(eb), withPublishInterval(50*time.Millisecond))
		ctx := context.Background()

		updateAndNotify(t, s, "a", 100)
		updateAndNotify(t, s, "b", 500)

		require.Eventually(t, func() bool { return len(events()) == 2 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"b", "a"}, playerIDs(events()[1]))

		require.NoError(t, s.Close(ctx))
		eb.Stop()
		assert.Len(t, events(), 2, "nothing left to publish after the trailing event")
	})
}

func updateAndNotify(t *testing.T, s *leaderboard.Service, playerID string, bestScore int64) {
	ctx := context.Background()

	_, err := s.UpdateRecord(ctx, playerID, func(r *domain.LeaderboardRecord) { r.BestScore = bestScore })
	require.NoError(t, err)
	require.NoError(t, s.HandleStatsUpdated(ctx, domain.EventStatsUpdated{PlayerID: playerID}))
}

func collectLeaderboardEvents() (*event.Bus, func() []domain.EventLeaderboardUpdated) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventLeaderboardUpdated
	)
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventLeaderboardUpdated))
		mu.Unlock()
		return nil
	})

	return eb, func() []domain.EventLeaderboardUpdated {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.EventLeaderboardUpdated(nil), events...)
	}
}

func playerIDs(e domain.EventLeaderboardUpdated) []string {
	ids := make([]string, 0, len(e.Entries))
	for _, r := range e.Entries {
		ids = append(ids, r.PlayerID)
	}
	return ids
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus:        event.NewBus(),
		Redis:           rc,
		Prefix:          "ladder",
		PublishInterval: 200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withPublishInterval(d time.Duration) options {
	return func(c *leaderboard.Config) {
		c.PublishInterval = d
	}
}

func withTopN(n int) options {
	return func(c *leaderboard.Config) {
		c.TopN = n
	}
}
