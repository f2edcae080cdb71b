package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a game session. Active is the only non-terminal status.
type Status string

const (
	StatusActive    Status = "active"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusQuit      Status = "quit"
	StatusAbandoned Status = "abandoned"
)

func (s Status) Terminal() bool { return s != StatusActive }

// Lifeline names as they appear on the wire.
type Lifeline string

const (
	LifelineFiftyFifty   Lifeline = "fiftyFifty"
	LifelinePhoneAFriend Lifeline = "phoneAFriend"
	LifelineAskAudience  Lifeline = "askAudience"
)

func (l Lifeline) Valid() bool {
	switch l {
	case LifelineFiftyFifty, LifelinePhoneAFriend, LifelineAskAudience:
		return true
	}
	return false
}

// Lifelines tracks which lifelines a session has spent.
type Lifelines struct {
	FiftyFifty   bool `json:"fiftyFifty"`
	PhoneAFriend bool `json:"phoneAFriend"`
	AskAudience  bool `json:"askAudience"`
}

func (l Lifelines) Used(name Lifeline) bool {
	switch name {
	case LifelineFiftyFifty:
		return l.FiftyFifty
	case LifelinePhoneAFriend:
		return l.PhoneAFriend
	case LifelineAskAudience:
		return l.AskAudience
	}
	return false
}

func (l *Lifelines) Mark(name Lifeline) {
	switch name {
	case LifelineFiftyFifty:
		l.FiftyFifty = true
	case LifelinePhoneAFriend:
		l.PhoneAFriend = true
	case LifelineAskAudience:
		l.AskAudience = true
	}
}

func (l Lifelines) Count() int {
	n := 0
	for _, used := range []bool{l.FiftyFifty, l.PhoneAFriend, l.AskAudience} {
		if used {
			n++
		}
	}
	return n
}

// Player is the authenticated caller of every engine operation.
type Player struct {
	ID          string
	DisplayName string
}

// Session is one player's attempt at a game.
type Session struct {
	SessionID         string
	PlayerID          string
	DisplayName       string
	GameID            string
	CurrentLevel      int
	CurrentQuestionID string
	QuestionPostedAt  time.Time
	Lifelines         Lifelines
	Status            Status
	StartedAt         time.Time
	EndedAt           time.Time
	MoneyWon          int64
	QuestionTimes     []time.Duration

	// Version is bumped by every persisted update and guards concurrent writers.
	Version int
}

func (s *Session) Active() bool { return s.Status == StatusActive }

// AverageQuestionTime is the mean of the recorded question times.
func (s *Session) AverageQuestionTime() time.Duration {
	if len(s.QuestionTimes) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range s.QuestionTimes {
		total += d
	}
	return total / time.Duration(len(s.QuestionTimes))
}

// Clone returns a deep copy, so stores never share slices with callers.
func (s *Session) Clone() *Session {
	c := *s
	c.QuestionTimes = append([]time.Duration(nil), s.QuestionTimes...)
	return &c
}

const DefaultMaxLevel = 15

// Game is a playable question set.
type Game struct {
	ID          string
	Title       string
	Description string
	Theme       string
	IsDefault   bool
	MaxLevel    int
	PlayCount   int64

	// A game carries either inline Questions or QuestionIDs referencing the question bank.
	Questions   []Question
	QuestionIDs []string
}

// Levels returns the number of levels in the game's ladder.
func (g *Game) Levels() int {
	if g.MaxLevel <= 0 {
		return DefaultMaxLevel
	}
	return g.MaxLevel
}

var AnswerLetters = [4]string{"A", "B", "C", "D"}

type Question struct {
	ID            string
	Text          string
	Options       [4]string
	CorrectAnswer string
	Difficulty    int
	Category      string
}

// CorrectIndex returns the option index of the correct answer, or -1 if the letter is malformed.
func (q *Question) CorrectIndex() int {
	return LetterIndex(q.CorrectAnswer)
}

func LetterIndex(letter string) int {
	for i, l := range AnswerLetters {
		if l == letter {
			return i
		}
	}
	return -1
}

// LeaderboardRecord holds a player's cumulative statistics.
type LeaderboardRecord struct {
	PlayerID               string
	DisplayName            string
	TotalEarnings          int64
	BestScore              int64
	GamesPlayed            int64
	GamesWon               int64
	BestLevel              int
	TotalLifelinesUsed     int64
	AverageTimePerQuestion decimal.Decimal
	QuestionsAnswered      int64
	LastPlayedAt           time.Time
}

// Stats is a snapshot of a player's record plus their rank.
type Stats struct {
	BestScore              int64           `json:"bestScore"`
	TotalEarnings          int64           `json:"totalEarnings"`
	GamesPlayed            int64           `json:"gamesPlayed"`
	GamesWon               int64           `json:"gamesWon"`
	BestLevel              int             `json:"bestLevel"`
	TotalLifelinesUsed     int64           `json:"totalLifelinesUsed"`
	AverageTimePerQuestion decimal.Decimal `json:"averageTimePerQuestion"`
	Rank                   int64           `json:"rank"`
}

// Outcome is what a finished session contributes to the leaderboard.
type Outcome struct {
	PlayerID           string
	DisplayName        string
	MoneyWon           int64
	LevelReached       int
	GameWon            bool
	LifelinesUsed      int
	AvgTimePerQuestion decimal.Decimal
	QuestionsAnswered  int
}
