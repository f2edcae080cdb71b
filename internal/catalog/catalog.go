// Package catalog adapts the game and question bank collaborators for the engine.
package catalog

import (
	"context"
	"fmt"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/prize"
)

// Catalog looks up playable games.
type Catalog interface {
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	GetDefaultGame(ctx context.Context) (*domain.Game, error)
	// RecordPlay increments the game's play counter.
	RecordPlay(ctx context.Context, id string) error
}

// Bank resolves questions that games reference by ID.
type Bank interface {
	Question(ctx context.Context, id string) (*domain.Question, error)
	QuestionsForLevel(ctx context.Context, ids []string, level int) ([]domain.Question, error)
}

func gameNotFound(id string) *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonGameNotFound),
		errors.WithMessagef("game not found: %s", id),
	)
}

func defaultGameNotFound() *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonDefaultGameNotFound),
		errors.WithMessagef("no default game configured"),
	)
}

func questionNotFound(id string) *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonQuestionNotFound),
		errors.WithMessagef("question not found: %s", id),
	)
}

// Validate checks the shape the engine relies on: four options, a correct letter and a difficulty on the ladder.
func Validate(q domain.Question) error {
	if q.CorrectIndex() < 0 {
		return fmt.Errorf("question %s: correct answer %q is not one of A-D", q.ID, q.CorrectAnswer)
	}
	if q.Difficulty < 1 || q.Difficulty > prize.MaxLevel {
		return fmt.Errorf("question %s: difficulty %d out of range", q.ID, q.Difficulty)
	}
	for i, o := range q.Options {
		if o == "" {
			return fmt.Errorf("question %s: option %s is empty", q.ID, domain.AnswerLetters[i])
		}
	}
	return nil
}

func normalizeGame(g *domain.Game) {
	if g.MaxLevel <= 0 || g.MaxLevel > prize.MaxLevel {
		g.MaxLevel = domain.DefaultMaxLevel
	}
}
