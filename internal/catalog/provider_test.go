package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/ladder/internal/catalog"
	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/random"
)

func TestProvider_QuestionForLevel(t *testing.T) {
	type (
		inputs struct {
			game  domain.Game
			bank  []domain.Question
			level int
		}

		outputs struct {
			question *domain.Question
			found    bool
			err      error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"inline game should return a question of the requested level": {
			arrange: func() inputs {
				return inputs{
					game:  domain.Game{ID: "g1", Questions: []domain.Question{q("q1", 1, "A"), q("q2", 2, "B")}},
					level: 2,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.True(t, out.found)
				assert.Equal(t, "q2", out.question.ID)
			},
		},

		"inline game without the level should report not found without error": {
			arrange: func() inputs {
				return inputs{
					game:  domain.Game{ID: "g1", Questions: []domain.Question{q("q1", 1, "A"), q("q3", 3, "B")}},
					level: 2,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.found)
				assert.Nil(t, out.question)
			},
		},

		"referencing game should only consider its own bank questions": {
			arrange: func() inputs {
				return inputs{
					game:  domain.Game{ID: "g2", QuestionIDs: []string{"b1", "b2"}},
					bank:  []domain.Question{q("b1", 1, "A"), q("b2", 2, "C"), q("b3", 1, "D")},
					level: 1,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.True(t, out.found)
				assert.Equal(t, "b1", out.question.ID)
			},
		},

		"game without questions should report not found": {
			arrange: func() inputs {
				return inputs{game: domain.Game{ID: "empty"}, level: 1}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.found)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()

			bank := catalog.NewMemory()
			bank.AddQuestions(in.bank...)
			p := catalog.NewProvider(bank, random.New(1))

			var out outputs
			out.question, out.found, out.err = p.QuestionForLevel(context.Background(), &in.game, in.level)
			tt.assert(t, out)
		})
	}
}

func TestProvider_QuestionForLevel_Uniform(t *testing.T) {
	g := domain.Game{ID: "g1", Questions: []domain.Question{q("q1", 1, "A"), q("q2", 1, "B"), q("q3", 1, "C")}}
	p := catalog.NewProvider(catalog.NewMemory(), random.New(5))

	seen := make(map[string]int)
	for range 300 {
		got, ok, err := p.QuestionForLevel(context.Background(), &g, 1)
		require.NoError(t, err)
		require.True(t, ok)
		seen[got.ID]++
	}

	assert.Len(t, seen, 3, "every candidate should be picked eventually")
}

func TestProvider_QuestionByID(t *testing.T) {
	bank := catalog.NewMemory()
	bank.AddQuestions(q("b1", 1, "A"), q("b9", 1, "A"))
	p := catalog.NewProvider(bank, random.New(1))

	inline := domain.Game{ID: "g1", Questions: []domain.Question{q("q1", 1, "D")}}
	referencing := domain.Game{ID: "g2", QuestionIDs: []string{"b1"}}

	got, err := p.QuestionByID(context.Background(), &inline, "q1")
	require.NoError(t, err)
	assert.Equal(t, "D", got.CorrectAnswer)

	got, err = p.QuestionByID(context.Background(), &referencing, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.ID)

	_, err = p.QuestionByID(context.Background(), &inline, "nope")
	assert.ErrorIs(t, err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonQuestionNotFound)))

	_, err = p.QuestionByID(context.Background(), &referencing, "b9")
	assert.ErrorIs(t, err, errors.New(errors.CodeNotFound), "bank question outside the game should not resolve")
}

func q(id string, difficulty int, correct string) domain.Question {
	return domain.Question{
		ID:            id,
		Text:          "question " + id,
		Options:       [4]string{"one", "two", "three", "four"},
		CorrectAnswer: correct,
		Difficulty:    difficulty,
	}
}
