package catalog

import (
	"context"
	"fmt"
	"slices"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/random"
)

// Provider picks questions for a game. Games with inline questions are scanned
// in place; games referencing the bank are looked up through it.
type Provider struct {
	bank Bank
	rnd  random.Source
}

func NewProvider(bank Bank, rnd random.Source) *Provider {
	return &Provider{bank: bank, rnd: rnd}
}

type strategy interface {
	candidates(ctx context.Context, level int) ([]domain.Question, error)
	byID(ctx context.Context, id string) (*domain.Question, error)
}

func (p *Provider) strategy(g *domain.Game) strategy {
	if len(g.Questions) > 0 {
		return inline{g: g}
	}
	return indexed{g: g, bank: p.bank}
}

// QuestionForLevel returns a uniformly random question of difficulty level.
// The boolean is false when the game has no question at that level.
func (p *Provider) QuestionForLevel(ctx context.Context, g *domain.Game, level int) (*domain.Question, bool, error) {
	qs, err := p.strategy(g).candidates(ctx, level)
	if err != nil {
		return nil, false, fmt.Errorf("catalog: questions for level %d of game %s: %w", level, g.ID, err)
	}

	if len(qs) == 0 {
		return nil, false, nil
	}

	q := qs[p.rnd.IntN(len(qs))]
	return &q, true, nil
}

// QuestionByID resolves a question of the game; it fails with NotFound when absent.
func (p *Provider) QuestionByID(ctx context.Context, g *domain.Game, id string) (*domain.Question, error) {
	return p.strategy(g).byID(ctx, id)
}

type inline struct {
	g *domain.Game
}

func (s inline) candidates(_ context.Context, level int) ([]domain.Question, error) {
	var qs []domain.Question
	for _, q := range s.g.Questions {
		if q.Difficulty == level {
			qs = append(qs, q)
		}
	}
	return qs, nil
}

func (s inline) byID(_ context.Context, id string) (*domain.Question, error) {
	for _, q := range s.g.Questions {
		if q.ID == id {
			return &q, nil
		}
	}
	return nil, questionNotFound(id)
}

type indexed struct {
	g    *domain.Game
	bank Bank
}

func (s indexed) candidates(ctx context.Context, level int) ([]domain.Question, error) {
	if len(s.g.QuestionIDs) == 0 {
		return nil, nil
	}
	return s.bank.QuestionsForLevel(ctx, s.g.QuestionIDs, level)
}

func (s indexed) byID(ctx context.Context, id string) (*domain.Question, error) {
	if !slices.Contains(s.g.QuestionIDs, id) {
		return nil, questionNotFound(id)
	}
	return s.bank.Question(ctx, id)
}
