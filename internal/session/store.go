package session

import (
	"context"
	"time"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
)

// Store persists sessions. Implementations guarantee at most one active
// session per player and reject updates whose Version is stale.
type Store interface {
	// Create inserts a new active session. It fails with Aborted if the player already has one.
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// FindActive returns the player's active session, or NotFound.
	FindActive(ctx context.Context, playerID string) (*domain.Session, error)
	// AbandonActive moves the player's active session, if any, to abandoned and returns it.
	AbandonActive(ctx context.Context, playerID string, at time.Time) (*domain.Session, error)
	// Update writes s if its Version matches the stored one, then increments s.Version.
	Update(ctx context.Context, s *domain.Session) error
	// ListByPlayer returns the player's most recent sessions, newest first.
	ListByPlayer(ctx context.Context, playerID string, limit int) ([]domain.Session, error)
}

func sessionNotFound(id string) *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonSessionNotFound),
		errors.WithMessagef("no active game session found: %s", id),
	)
}

func sessionConflict(id string) *errors.Error {
	return errors.New(errors.CodeAborted,
		errors.WithReason(errors.ReasonSessionConflict),
		errors.WithMessagef("game session %s was modified concurrently", id),
	)
}

func activeSessionExists(playerID string, cause error) *errors.Error {
	return errors.New(errors.CodeAborted,
		errors.WithReason(errors.ReasonSessionConflict),
		errors.WithMessagef("player %s already has an active game session", playerID),
		errors.WithCause(cause),
	)
}
