package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameSessionEnded       = "session.ended"
	EventNameStatsUpdated       = "stats.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionStarted struct {
	Session Session
	Game    Game
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

// EventSessionEnded is published once a session's terminal state is persisted.
type EventSessionEnded struct {
	Session Session
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventStatsUpdated struct {
	PlayerID string
	Stats    Stats
}

func (EventStatsUpdated) Name() string { return EventNameStatsUpdated }

type EventLeaderboardUpdated struct {
	Entries []LeaderboardRecord
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
