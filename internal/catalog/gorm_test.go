package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/random"
)

func TestGormStore_GetGame(t *testing.T) {
	ctx := context.Background()
	s := makeGormStore(t)

	t.Run("inline questions are preloaded", func(t *testing.T) {
		g, err := s.GetGame(ctx, "warmup")
		require.NoError(t, err)

		assert.Equal(t, "Warm-up", g.Title)
		assert.Equal(t, 3, g.Levels())
		require.Len(t, g.Questions, 2)
		assert.ElementsMatch(t, []string{"w1", "w2"}, []string{g.Questions[0].ID, g.Questions[1].ID})
		assert.Empty(t, g.QuestionIDs)

		for _, q := range g.Questions {
			if q.ID == "w2" {
				assert.Equal(t, [4]string{"w2-A", "w2-B", "w2-C", "w2-D"}, q.Options)
				assert.Equal(t, "C", q.CorrectAnswer)
				assert.Equal(t, 2, q.Difficulty)
			}
		}
	})

	t.Run("bank references come from the join table", func(t *testing.T) {
		g, err := s.GetGame(ctx, "classic")
		require.NoError(t, err)

		assert.Empty(t, g.Questions)
		assert.Equal(t, []string{"b1", "b2", "b3"}, g.QuestionIDs)
		assert.Equal(t, domain.DefaultMaxLevel, g.Levels(), "unset max level falls back to the full ladder")
	})

	t.Run("unknown game", func(t *testing.T) {
		_, err := s.GetGame(ctx, "missing")
		assert.ErrorIs(t, err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonGameNotFound)))
	})
}

func TestGormStore_GetDefaultGame(t *testing.T) {
	ctx := context.Background()

	t.Run("flagged game", func(t *testing.T) {
		g, err := makeGormStore(t).GetDefaultGame(ctx)
		require.NoError(t, err)
		assert.Equal(t, "classic", g.ID)
		assert.True(t, g.IsDefault)
	})

	t.Run("no default game", func(t *testing.T) {
		s := NewGormStore(openSQLite(t))
		require.NoError(t, s.Migrate(ctx))

		_, err := s.GetDefaultGame(ctx)
		assert.ErrorIs(t, err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonDefaultGameNotFound)))
	})
}

func TestGormStore_RecordPlay(t *testing.T) {
	ctx := context.Background()
	s := makeGormStore(t)

	require.NoError(t, s.RecordPlay(ctx, "classic"))
	require.NoError(t, s.RecordPlay(ctx, "classic"))

	g, err := s.GetGame(ctx, "classic")
	require.NoError(t, err)
	assert.EqualValues(t, 2, g.PlayCount)

	err = s.RecordPlay(ctx, "missing")
	assert.ErrorIs(t, err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonGameNotFound)))
}

func TestGormStore_Bank(t *testing.T) {
	ctx := context.Background()
	s := makeGormStore(t)

	q, err := s.Question(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, "b2 text", q.Text)
	assert.Equal(t, 2, q.Difficulty)

	_, err = s.Question(ctx, "missing")
	assert.ErrorIs(t, err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonQuestionNotFound)))

	qs, err := s.QuestionsForLevel(ctx, []string{"b1", "b2", "b3", "other"}, 2)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "b2", qs[0].ID)

	qs, err = s.QuestionsForLevel(ctx, []string{"b1"}, 2)
	require.NoError(t, err)
	assert.Empty(t, qs, "questions outside the game's references are not candidates")
}

func TestGormStore_WithProvider(t *testing.T) {
	ctx := context.Background()
	s := makeGormStore(t)
	p := NewProvider(s, random.New(1))

	g, err := s.GetDefaultGame(ctx)
	require.NoError(t, err)

	q, ok, err := p.QuestionForLevel(ctx, g, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b3", q.ID)

	_, ok, err = p.QuestionForLevel(ctx, g, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	q, err = p.QuestionByID(ctx, g, "b1")
	require.NoError(t, err)
	assert.Equal(t, "A", q.CorrectAnswer)
}

func makeGormStore(t *testing.T) *GormStore {
	t.Helper()

	db := openSQLite(t)
	s := NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()))

	games := []gameModel{
		{
			ID:        "classic",
			Title:     "Classic",
			IsDefault: true,
			Bank: []bankQuestionModel{
				bankQuestion("b1", 1, "A"),
				bankQuestion("b2", 2, "B"),
				bankQuestion("b3", 3, "D"),
			},
		},
		{
			ID:       "warmup",
			Title:    "Warm-up",
			MaxLevel: 3,
			Questions: []gameQuestionModel{
				{ID: "w1", Columns: columns("w1", 1, "A")},
				{ID: "w2", Columns: columns("w2", 2, "C")},
			},
		},
	}
	require.NoError(t, db.Create(&games).Error)
	// a bank question no game references
	require.NoError(t, db.Create(&[]bankQuestionModel{bankQuestion("other", 2, "B")}).Error)

	return s
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

func bankQuestion(id string, difficulty int, answer string) bankQuestionModel {
	return bankQuestionModel{ID: id, Columns: columns(id, difficulty, answer)}
}

func columns(id string, difficulty int, answer string) questionColumns {
	return questionColumns{
		Text:          id + " text",
		OptionA:       id + "-A",
		OptionB:       id + "-B",
		OptionC:       id + "-C",
		OptionD:       id + "-D",
		CorrectAnswer: answer,
		Difficulty:    difficulty,
		Category:      "general",
	}
}
