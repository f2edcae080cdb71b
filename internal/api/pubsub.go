package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/event"
	"github.com/victornm/ladder/internal/telemetry"
)

// Notification names as clients see them.
const (
	NotificationGameStarted       = "game:started"
	NotificationGameEnded         = "game:ended"
	NotificationLeaderboardUpdate = "leaderboard:update"
	NotificationStatsUpdate       = "stats:update"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	GameStarted struct {
		SessionID   string    `json:"sessionId"`
		PlayerID    string    `json:"playerId"`
		DisplayName string    `json:"displayName"`
		GameID      string    `json:"gameId"`
		GameTitle   string    `json:"gameTitle"`
		StartedAt   time.Time `json:"startedAt"`
	}

	GameEnded struct {
		SessionID    string        `json:"sessionId"`
		PlayerID     string        `json:"playerId"`
		DisplayName  string        `json:"displayName"`
		GameID       string        `json:"gameId"`
		Status       domain.Status `json:"status"`
		MoneyWon     int64         `json:"moneyWon"`
		LevelReached int           `json:"levelReached"`
		EndedAt      time.Time     `json:"endedAt"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Rank                   int64           `json:"rank"`
		PlayerID               string          `json:"playerId"`
		DisplayName            string          `json:"displayName"`
		BestScore              int64           `json:"bestScore"`
		TotalEarnings          int64           `json:"totalEarnings"`
		GamesPlayed            int64           `json:"gamesPlayed"`
		GamesWon               int64           `json:"gamesWon"`
		BestLevel              int             `json:"bestLevel"`
		AverageTimePerQuestion decimal.Decimal `json:"averageTimePerQuestion"`
	}
)

// toLeaderboard ranks records already sorted by best score; equal scores share a rank.
func toLeaderboard(rs []domain.LeaderboardRecord) Leaderboard {
	l := Leaderboard{Entries: make([]LeaderboardEntry, 0, len(rs))}

	var rank int64
	for i, r := range rs {
		if i == 0 || r.BestScore != rs[i-1].BestScore {
			rank = int64(i) + 1
		}

		l.Entries = append(l.Entries, LeaderboardEntry{
			Rank:                   rank,
			PlayerID:               r.PlayerID,
			DisplayName:            r.DisplayName,
			BestScore:              r.BestScore,
			TotalEarnings:          r.TotalEarnings,
			GamesPlayed:            r.GamesPlayed,
			GamesWon:               r.GamesWon,
			BestLevel:              r.BestLevel,
			AverageTimePerQuestion: r.AverageTimePerQuestion,
		})
	}

	return l
}

func (a *API) subscribe() {
	a.eb.Subscribe(domain.EventNameSessionStarted, func(ctx context.Context, e event.Event) error {
		return a.PublishGameStarted(ctx, e.(domain.EventSessionStarted))
	})
	a.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return a.PublishGameEnded(ctx, e.(domain.EventSessionEnded))
	})
	a.eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	a.eb.Subscribe(domain.EventNameStatsUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishStatsUpdated(ctx, e.(domain.EventStatsUpdated))
	})
}

func (a *API) PublishGameStarted(ctx context.Context, e domain.EventSessionStarted) error {
	return a.publishNotification(ctx, roomGames, NotificationGameStarted, GameStarted{
		SessionID:   e.Session.SessionID,
		PlayerID:    e.Session.PlayerID,
		DisplayName: e.Session.DisplayName,
		GameID:      e.Game.ID,
		GameTitle:   e.Game.Title,
		StartedAt:   e.Session.StartedAt,
	})
}

func (a *API) PublishGameEnded(ctx context.Context, e domain.EventSessionEnded) error {
	ss := e.Session
	return a.publishNotification(ctx, roomGames, NotificationGameEnded, GameEnded{
		SessionID:    ss.SessionID,
		PlayerID:     ss.PlayerID,
		DisplayName:  ss.DisplayName,
		GameID:       ss.GameID,
		Status:       ss.Status,
		MoneyWon:     ss.MoneyWon,
		LevelReached: ss.CurrentLevel,
		EndedAt:      ss.EndedAt,
	})
}

func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, roomGames, NotificationLeaderboardUpdate, toLeaderboard(e.Entries))
}

func (a *API) PublishStatsUpdated(ctx context.Context, e domain.EventStatsUpdated) error {
	return a.publishNotification(ctx, userRoom(e.PlayerID), NotificationStatsUpdate, e.Stats)
}

// publishNotification sends one notification to the redis channel of room and to the
// room's websocket clients. Failures are counted and logged by the event bus; they
// never reach the operation that caused the notification.
func (a *API) publishNotification(ctx context.Context, room, name string, data any) error {
	b, err := json.Marshal(Notification{
		Event: name,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", name, err)
	}

	var eg errgroup.Group

	eg.Go(func() error {
		if err := a.redis.Publish(ctx, a.getChannel(room), b).Err(); err != nil {
			telemetry.NotificationFailures.WithLabelValues("redis").Inc()
			return fmt.Errorf("pubsub: publish %s to %s: %w", name, room, err)
		}
		return nil
	})

	eg.Go(func() error {
		if failed := a.hub.Broadcast(room, b); failed > 0 {
			telemetry.NotificationFailures.WithLabelValues("websocket").Add(float64(failed))
			slog.WarnContext(ctx, "pubsub: websocket delivery failed", "event", name, "room", room, "failed", failed)
		}
		return nil
	})

	return eg.Wait()
}

func (a *API) getChannel(room string) string {
	return fmt.Sprintf("%s:%s", a.prefix, room)
}
