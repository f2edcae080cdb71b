package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/ladder/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	session_id         TEXT PRIMARY KEY,
	player_id          TEXT NOT NULL,
	display_name       TEXT NOT NULL DEFAULT '',
	game_id            TEXT NOT NULL,
	current_level      INT NOT NULL,
	current_question   TEXT NOT NULL,
	question_posted_at TIMESTAMPTZ NOT NULL,
	fifty_fifty        BOOLEAN NOT NULL DEFAULT FALSE,
	phone_a_friend     BOOLEAN NOT NULL DEFAULT FALSE,
	ask_audience       BOOLEAN NOT NULL DEFAULT FALSE,
	status             TEXT NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	ended_at           TIMESTAMPTZ,
	money_won          BIGINT NOT NULL DEFAULT 0,
	question_times_ms  BIGINT[] NOT NULL DEFAULT '{}',
	version            INT NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS game_sessions_one_active_per_player
	ON game_sessions (player_id) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS game_sessions_player_started
	ON game_sessions (player_id, started_at DESC);`

const selectColumns = `session_id, player_id, display_name, game_id, current_level, current_question,
	question_posted_at, fifty_fifty, phone_a_friend, ask_audience, status, started_at, ended_at,
	money_won, question_times_ms, version`

const codeUniqueViolation = "23505"

// PostgresStore persists sessions in PostgreSQL. The partial unique index on
// (player_id) WHERE status = 'active' backs the one-active-session rule.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("session: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, ss *domain.Session) error {
	const stmt = `
INSERT INTO game_sessions (session_id, player_id, display_name, game_id, current_level, current_question,
	question_posted_at, fifty_fifty, phone_a_friend, ask_audience, status, started_at, money_won, question_times_ms, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1);`

	_, err := s.db.Exec(ctx, stmt,
		ss.SessionID, ss.PlayerID, ss.DisplayName, ss.GameID, ss.CurrentLevel, ss.CurrentQuestionID,
		ss.QuestionPostedAt, ss.Lifelines.FiftyFifty, ss.Lifelines.PhoneAFriend, ss.Lifelines.AskAudience,
		string(ss.Status), ss.StartedAt, ss.MoneyWon, durationsToMillis(ss.QuestionTimes),
	)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return activeSessionExists(ss.PlayerID, err)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	ss.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM game_sessions WHERE session_id = $1;`, sessionID)

	ss, err := scanSession(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, sessionNotFound(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return ss, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, playerID string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM game_sessions WHERE player_id = $1 AND status = 'active';`, playerID)

	ss, err := scanSession(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, sessionNotFound(playerID)
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return ss, nil
}

func (s *PostgresStore) AbandonActive(ctx context.Context, playerID string, at time.Time) (*domain.Session, error) {
	const stmt = `
UPDATE game_sessions
SET status = 'abandoned', ended_at = $2, money_won = 0, version = version + 1
WHERE player_id = $1 AND status = 'active'
RETURNING ` + selectColumns + `;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, playerID, at))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("abandon active session: %w", err)
	}
	return ss, nil
}

func (s *PostgresStore) Update(ctx context.Context, ss *domain.Session) error {
	const stmt = `
UPDATE game_sessions
SET current_level = $3, current_question = $4, question_posted_at = $5,
	fifty_fifty = $6, phone_a_friend = $7, ask_audience = $8,
	status = $9, ended_at = $10, money_won = $11, question_times_ms = $12,
	version = version + 1
WHERE session_id = $1 AND version = $2;`

	var endedAt *time.Time
	if !ss.EndedAt.IsZero() {
		endedAt = &ss.EndedAt
	}

	tag, err := s.db.Exec(ctx, stmt,
		ss.SessionID, ss.Version, ss.CurrentLevel, ss.CurrentQuestionID, ss.QuestionPostedAt,
		ss.Lifelines.FiftyFifty, ss.Lifelines.PhoneAFriend, ss.Lifelines.AskAudience,
		string(ss.Status), endedAt, ss.MoneyWon, durationsToMillis(ss.QuestionTimes),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return sessionConflict(ss.SessionID)
	}

	ss.Version++
	return nil
}

func (s *PostgresStore) ListByPlayer(ctx context.Context, playerID string, limit int) ([]domain.Session, error) {
	const stmt = `SELECT ` + selectColumns + `
FROM game_sessions
WHERE player_id = $1
ORDER BY started_at DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	ss, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Session, error) {
		sess, err := scanSession(r)
		if err != nil {
			return domain.Session{}, err
		}
		return *sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return ss, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		ss      domain.Session
		status  string
		endedAt *time.Time
		times   []int64
	)

	err := row.Scan(
		&ss.SessionID, &ss.PlayerID, &ss.DisplayName, &ss.GameID, &ss.CurrentLevel, &ss.CurrentQuestionID,
		&ss.QuestionPostedAt, &ss.Lifelines.FiftyFifty, &ss.Lifelines.PhoneAFriend, &ss.Lifelines.AskAudience,
		&status, &ss.StartedAt, &endedAt, &ss.MoneyWon, &times, &ss.Version,
	)
	if err != nil {
		return nil, err
	}

	ss.Status = domain.Status(status)
	if endedAt != nil {
		ss.EndedAt = *endedAt
	}
	for _, ms := range times {
		ss.QuestionTimes = append(ss.QuestionTimes, time.Duration(ms)*time.Millisecond)
	}

	return &ss, nil
}

func durationsToMillis(ds []time.Duration) []int64 {
	ms := make([]int64, 0, len(ds))
	for _, d := range ds {
		ms = append(ms, d.Milliseconds())
	}
	return ms
}
