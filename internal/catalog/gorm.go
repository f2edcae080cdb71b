package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/victornm/ladder/internal/domain"
)

type gameModel struct {
	ID          string              `gorm:"primaryKey;size:64"`
	Title       string              `gorm:"size:255;not null"`
	Description string
	Theme       string              `gorm:"size:64;not null;default:Classic"`
	IsDefault   bool                `gorm:"index;not null;default:false"`
	MaxLevel    int                 `gorm:"not null;default:15"`
	PlayCount   int64               `gorm:"not null;default:0"`
	Questions   []gameQuestionModel `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
	Bank        []bankQuestionModel `gorm:"many2many:game_bank_questions;joinForeignKey:GameID;joinReferences:QuestionID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (gameModel) TableName() string { return "games" }

// questionColumns is shared by inline and bank questions.
type questionColumns struct {
	Text          string `gorm:"not null"`
	OptionA       string `gorm:"not null"`
	OptionB       string `gorm:"not null"`
	OptionC       string `gorm:"not null"`
	OptionD       string `gorm:"not null"`
	CorrectAnswer string `gorm:"size:1;not null"`
	Difficulty    int    `gorm:"index;not null"`
	Category      string `gorm:"size:64"`
}

func (c questionColumns) toDomain(id string) domain.Question {
	return domain.Question{
		ID:            id,
		Text:          c.Text,
		Options:       [4]string{c.OptionA, c.OptionB, c.OptionC, c.OptionD},
		CorrectAnswer: c.CorrectAnswer,
		Difficulty:    c.Difficulty,
		Category:      c.Category,
	}
}

type gameQuestionModel struct {
	ID      string          `gorm:"primaryKey;size:64"`
	GameID  string          `gorm:"index;size:64;not null"`
	Columns questionColumns `gorm:"embedded"`
}

func (gameQuestionModel) TableName() string { return "game_questions" }

type bankQuestionModel struct {
	ID      string          `gorm:"primaryKey;size:64"`
	Columns questionColumns `gorm:"embedded"`
}

func (bankQuestionModel) TableName() string { return "questions" }

// GormStore reads games and the question bank from a relational database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the catalog tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&gameModel{}, &gameQuestionModel{}, &bankQuestionModel{}); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

func (s *GormStore) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	var m gameModel
	err := s.db.WithContext(ctx).Preload("Questions").Where("id = ?", id).First(&m).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gameNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get game %s: %w", id, err)
	}

	return s.toDomain(ctx, &m)
}

func (s *GormStore) GetDefaultGame(ctx context.Context) (*domain.Game, error) {
	var m gameModel
	err := s.db.WithContext(ctx).Preload("Questions").Where("is_default = ?", true).Order("id").First(&m).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, defaultGameNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get default game: %w", err)
	}

	return s.toDomain(ctx, &m)
}

func (s *GormStore) RecordPlay(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&gameModel{}).Where("id = ?", id).
		UpdateColumn("play_count", gorm.Expr("play_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("catalog: record play %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gameNotFound(id)
	}
	return nil
}

func (s *GormStore) Question(ctx context.Context, id string) (*domain.Question, error) {
	var m bankQuestionModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, questionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get question %s: %w", id, err)
	}

	q := m.Columns.toDomain(m.ID)
	return &q, nil
}

func (s *GormStore) QuestionsForLevel(ctx context.Context, ids []string, level int) ([]domain.Question, error) {
	var rows []bankQuestionModel
	err := s.db.WithContext(ctx).Where("id IN ? AND difficulty = ?", ids, level).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("catalog: questions for level %d: %w", level, err)
	}

	qs := make([]domain.Question, 0, len(rows))
	for _, r := range rows {
		qs = append(qs, r.Columns.toDomain(r.ID))
	}
	return qs, nil
}

func (s *GormStore) toDomain(ctx context.Context, m *gameModel) (*domain.Game, error) {
	g := &domain.Game{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Theme:       m.Theme,
		IsDefault:   m.IsDefault,
		MaxLevel:    m.MaxLevel,
		PlayCount:   m.PlayCount,
	}
	for _, q := range m.Questions {
		g.Questions = append(g.Questions, q.Columns.toDomain(q.ID))
	}

	if len(g.Questions) == 0 {
		err := s.db.WithContext(ctx).Table("game_bank_questions").
			Where("game_id = ?", m.ID).
			Order("question_id").
			Pluck("question_id", &g.QuestionIDs).Error
		if err != nil {
			return nil, fmt.Errorf("catalog: question refs of game %s: %w", m.ID, err)
		}
	}

	normalizeGame(g)
	return g, nil
}
