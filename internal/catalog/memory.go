package catalog

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/victornm/ladder/internal/domain"
)

// Memory is an in-process catalog, used for local runs and tests.
type Memory struct {
	mu    sync.RWMutex
	games map[string]*domain.Game
	bank  map[string]domain.Question
}

func NewMemory() *Memory {
	return &Memory{
		games: make(map[string]*domain.Game),
		bank:  make(map[string]domain.Question),
	}
}

func (m *Memory) AddGame(g domain.Game) {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalizeGame(&g)
	m.games[g.ID] = cloneGame(&g)
}

func (m *Memory) AddQuestions(qs ...domain.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range qs {
		m.bank[q.ID] = q
	}
}

func (m *Memory) GetGame(_ context.Context, id string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.games[id]
	if !ok {
		return nil, gameNotFound(id)
	}
	return cloneGame(g), nil
}

// GetDefaultGame returns the default game with the smallest ID, so the choice is stable.
func (m *Memory) GetDefaultGame(_ context.Context) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.games))
	for id, g := range m.games {
		if g.IsDefault {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, defaultGameNotFound()
	}

	sort.Strings(ids)
	return cloneGame(m.games[ids[0]]), nil
}

func (m *Memory) RecordPlay(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[id]
	if !ok {
		return gameNotFound(id)
	}
	g.PlayCount++
	return nil
}

func (m *Memory) Question(_ context.Context, id string) (*domain.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.bank[id]
	if !ok {
		return nil, questionNotFound(id)
	}
	return &q, nil
}

func (m *Memory) QuestionsForLevel(_ context.Context, ids []string, level int) ([]domain.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var qs []domain.Question
	for _, id := range ids {
		if q, ok := m.bank[id]; ok && q.Difficulty == level {
			qs = append(qs, q)
		}
	}
	return qs, nil
}

func cloneGame(g *domain.Game) *domain.Game {
	c := *g
	c.Questions = slices.Clone(g.Questions)
	c.QuestionIDs = slices.Clone(g.QuestionIDs)
	return &c
}

type (
	fileCatalog struct {
		Games []fileGame     `yaml:"games"`
		Bank  []fileQuestion `yaml:"bank"`
	}

	fileGame struct {
		ID          string         `yaml:"id"`
		Title       string         `yaml:"title"`
		Description string         `yaml:"description"`
		Theme       string         `yaml:"theme"`
		Default     bool           `yaml:"default"`
		MaxLevel    int            `yaml:"max_level"`
		Questions   []fileQuestion `yaml:"questions"`
		QuestionIDs []string       `yaml:"question_ids"`
	}

	fileQuestion struct {
		ID         string   `yaml:"id"`
		Text       string   `yaml:"text"`
		Options    []string `yaml:"options"`
		Answer     string   `yaml:"answer"`
		Difficulty int      `yaml:"difficulty"`
		Category   string   `yaml:"category"`
	}
)

func (q fileQuestion) toDomain() (domain.Question, error) {
	if len(q.Options) != len(domain.AnswerLetters) {
		return domain.Question{}, fmt.Errorf("question %s: want %d options, got %d", q.ID, len(domain.AnswerLetters), len(q.Options))
	}

	dq := domain.Question{
		ID:            q.ID,
		Text:          q.Text,
		CorrectAnswer: q.Answer,
		Difficulty:    q.Difficulty,
		Category:      q.Category,
	}
	copy(dq.Options[:], q.Options)

	return dq, Validate(dq)
}

// LoadFile reads a YAML catalog into a Memory catalog.
func LoadFile(path string) (*Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var fc fileCatalog
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	m := NewMemory()
	for _, fq := range fc.Bank {
		q, err := fq.toDomain()
		if err != nil {
			return nil, fmt.Errorf("catalog: bank: %w", err)
		}
		m.AddQuestions(q)
	}

	for _, fg := range fc.Games {
		g := domain.Game{
			ID:          fg.ID,
			Title:       fg.Title,
			Description: fg.Description,
			Theme:       fg.Theme,
			IsDefault:   fg.Default,
			MaxLevel:    fg.MaxLevel,
			QuestionIDs: fg.QuestionIDs,
		}
		for _, fq := range fg.Questions {
			q, err := fq.toDomain()
			if err != nil {
				return nil, fmt.Errorf("catalog: game %s: %w", fg.ID, err)
			}
			g.Questions = append(g.Questions, q)
		}
		m.AddGame(g)
	}

	return m, nil
}
