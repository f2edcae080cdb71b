// Package lifeline computes the effect of each lifeline on a question.
//
// Results are advisory overlays for the client; nothing here changes which
// answer is correct, and nothing here enforces single use.
package lifeline

import (
	"fmt"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/random"
)

const (
	friendCorrectPercent = 80

	friendSureMin, friendSureSpan     = 70, 30 // [70,99]
	friendUnsureMin, friendUnsureSpan = 50, 40 // [50,89]

	audienceCorrectMin, audienceCorrectSpan = 40, 36 // [40,75]
)

type FiftyFiftyResult struct {
	FiftyFiftyOptions []string  `json:"fiftyFiftyOptions"`
	RemainingOptions  []*string `json:"remainingOptions"`
}

type PhoneAFriendResult struct {
	FriendAnswer string `json:"friendAnswer"`
	Confidence   int    `json:"confidence"`
}

type AskAudienceResult struct {
	AudienceResults map[string]int `json:"audienceResults"`
}

type Resolver struct {
	rnd random.Source
}

func NewResolver(rnd random.Source) *Resolver {
	return &Resolver{rnd: rnd}
}

// Resolve dispatches to the lifeline named l.
func (r *Resolver) Resolve(l domain.Lifeline, q domain.Question) (any, error) {
	switch l {
	case domain.LifelineFiftyFifty:
		return r.FiftyFifty(q)
	case domain.LifelinePhoneAFriend:
		return r.PhoneAFriend(q)
	case domain.LifelineAskAudience:
		return r.AskAudience(q)
	}
	return nil, fmt.Errorf("lifeline: unknown lifeline %q", l)
}

// FiftyFifty keeps the correct option and one random wrong option.
func (r *Resolver) FiftyFifty(q domain.Question) (*FiftyFiftyResult, error) {
	correct, err := correctIndex(q)
	if err != nil {
		return nil, err
	}

	wrong := wrongIndices(correct)
	keep := wrong[r.rnd.IntN(len(wrong))]

	res := &FiftyFiftyResult{
		FiftyFiftyOptions: make([]string, 0, 2),
		RemainingOptions:  make([]*string, len(q.Options)),
	}
	for i, letter := range domain.AnswerLetters {
		if i != correct && i != keep {
			continue
		}
		opt := q.Options[i]
		res.FiftyFiftyOptions = append(res.FiftyFiftyOptions, letter)
		res.RemainingOptions[i] = &opt
	}

	return res, nil
}

// PhoneAFriend names the correct letter most of the time, with higher confidence when right.
func (r *Resolver) PhoneAFriend(q domain.Question) (*PhoneAFriendResult, error) {
	correct, err := correctIndex(q)
	if err != nil {
		return nil, err
	}

	if r.rnd.IntN(100) < friendCorrectPercent {
		return &PhoneAFriendResult{
			FriendAnswer: domain.AnswerLetters[correct],
			Confidence:   friendSureMin + r.rnd.IntN(friendSureSpan),
		}, nil
	}

	wrong := wrongIndices(correct)
	return &PhoneAFriendResult{
		FriendAnswer: domain.AnswerLetters[wrong[r.rnd.IntN(len(wrong))]],
		Confidence:   friendUnsureMin + r.rnd.IntN(friendUnsureSpan),
	}, nil
}

// AskAudience splits 100 points over the four letters, favouring the correct one.
func (r *Resolver) AskAudience(q domain.Question) (*AskAudienceResult, error) {
	correct, err := correctIndex(q)
	if err != nil {
		return nil, err
	}

	results := make(map[string]int, len(domain.AnswerLetters))
	share := audienceCorrectMin + r.rnd.IntN(audienceCorrectSpan)
	results[domain.AnswerLetters[correct]] = share

	remaining := 100 - share
	wrong := wrongIndices(correct)
	allocated := 0
	for i, idx := range wrong {
		letter := domain.AnswerLetters[idx]
		if i == len(wrong)-1 {
			results[letter] = remaining - allocated
			break
		}

		// leave at least one point for each letter still to come
		limit := remaining - allocated - (len(wrong) - i - 1)
		portion := 0
		if limit > 0 {
			portion = r.rnd.IntN(limit) + 1
		}
		results[letter] = portion
		allocated += portion
	}

	return &AskAudienceResult{AudienceResults: results}, nil
}

func correctIndex(q domain.Question) (int, error) {
	i := q.CorrectIndex()
	if i < 0 {
		return 0, fmt.Errorf("lifeline: question %s has malformed correct answer %q", q.ID, q.CorrectAnswer)
	}
	return i, nil
}

func wrongIndices(correct int) []int {
	wrong := make([]int, 0, len(domain.AnswerLetters)-1)
	for i := range domain.AnswerLetters {
		if i != correct {
			wrong = append(wrong, i)
		}
	}
	return wrong
}
