package loop

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Gurpartap/taskflow/session"
)

// Reply is one human response fed back into a suspended loop.
type Reply struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Processor interprets a reply and writes what it learns into the state.
// A returned error means the reply made no forward progress; the controller
// records it and keeps looping.
type Processor interface {
	Process(ctx context.Context, state session.State, reply Reply) error
}

type ProcessorFunc func(ctx context.Context, state session.State, reply Reply) error

func (f ProcessorFunc) Process(ctx context.Context, state session.State, reply Reply) error {
	return f(ctx, state, reply)
}

// DefaultConfirmationVocabulary holds the words that confirm a proposal.
var DefaultConfirmationVocabulary = []string{"confirm", "yes"}

// Confirmation sets Key to true when the reply contains a vocabulary word,
// matched case-insensitively as a substring. Any other non-blank reply sets
// Key to false and is kept under FeedbackKey.
type Confirmation struct {
	Key         string
	FeedbackKey string
	Vocabulary  []string
}

func NewConfirmation(key, feedbackKey string, vocabulary ...string) (*Confirmation, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: confirmation: key is empty", ErrInvalidConfig)
	}
	words := make([]string, 0, len(vocabulary))
	for _, word := range vocabulary {
		if word = strings.ToLower(strings.TrimSpace(word)); word != "" {
			words = append(words, word)
		}
	}
	if len(words) == 0 {
		words = slices.Clone(DefaultConfirmationVocabulary)
	}
	return &Confirmation{
		Key:         key,
		FeedbackKey: strings.TrimSpace(feedbackKey),
		Vocabulary:  words,
	}, nil
}

// Confirms reports whether text contains any vocabulary word.
func (p *Confirmation) Confirms(text string) bool {
	lowered := strings.ToLower(text)
	for _, word := range p.Vocabulary {
		if strings.Contains(lowered, word) {
			return true
		}
	}
	return false
}

func (p *Confirmation) Process(_ context.Context, state session.State, reply Reply) error {
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return fmt.Errorf("%w: empty reply", ErrNoProgress)
	}
	if p.Confirms(text) {
		state.Set(p.Key, true)
		if p.FeedbackKey != "" {
			state.Delete(p.FeedbackKey)
		}
		return nil
	}
	state.Set(p.Key, false)
	if p.FeedbackKey != "" {
		state.Set(p.FeedbackKey, text)
	}
	return nil
}
