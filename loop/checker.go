package loop

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Gurpartap/taskflow/session"
)

// Checker decides whether a loop has reached its exit condition.
// Implementations must be pure: no state mutation, same answer for the same state.
type Checker interface {
	Satisfied(state session.State) bool
	// SuccessStatus is the status written when Satisfied returns true.
	SuccessStatus() CompletionStatus
}

// MissingReporter is implemented by checkers that can name what is still absent.
type MissingReporter interface {
	Missing(state session.State) []string
}

// AllKeysPresent is satisfied when every key is present with a non-empty value.
type AllKeysPresent struct {
	keys []string
}

var (
	_ Checker         = (*AllKeysPresent)(nil)
	_ MissingReporter = (*AllKeysPresent)(nil)
)

func NewAllKeysPresent(keys ...string) (*AllKeysPresent, error) {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: all-keys-present: blank key", ErrInvalidConfig)
		}
		if !slices.Contains(cleaned, key) {
			cleaned = append(cleaned, key)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: all-keys-present: key set is empty", ErrInvalidConfig)
	}
	return &AllKeysPresent{keys: cleaned}, nil
}

func (c *AllKeysPresent) Keys() []string {
	return slices.Clone(c.keys)
}

func (c *AllKeysPresent) Satisfied(state session.State) bool {
	return len(c.Missing(state)) == 0
}

func (c *AllKeysPresent) Missing(state session.State) []string {
	var missing []string
	for _, key := range c.keys {
		value, ok := state.Get(key)
		if !ok || session.IsEmpty(value) {
			missing = append(missing, key)
		}
	}
	return missing
}

func (c *AllKeysPresent) SuccessStatus() CompletionStatus {
	return StatusComplete
}

// BoolFlag is satisfied when the key holds exactly boolean true.
type BoolFlag struct {
	key string
}

var _ Checker = (*BoolFlag)(nil)

func NewBoolFlag(key string) (*BoolFlag, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: bool-flag: key is empty", ErrInvalidConfig)
	}
	return &BoolFlag{key: key}, nil
}

func (c *BoolFlag) Key() string {
	return c.key
}

func (c *BoolFlag) Satisfied(state session.State) bool {
	return state.Bool(c.key)
}

func (c *BoolFlag) SuccessStatus() CompletionStatus {
	return StatusConfirmed
}

// CritiqueAccepted is satisfied when the key decodes to a Critique with status complete.
type CritiqueAccepted struct {
	key string
}

var _ Checker = (*CritiqueAccepted)(nil)

func NewCritiqueAccepted(key string) (*CritiqueAccepted, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: critique: key is empty", ErrInvalidConfig)
	}
	return &CritiqueAccepted{key: key}, nil
}

func (c *CritiqueAccepted) Satisfied(state session.State) bool {
	critique, ok := CritiqueFromState(state, c.key)
	return ok && critique.Status == CritiqueStatusComplete
}

func (c *CritiqueAccepted) SuccessStatus() CompletionStatus {
	return StatusComplete
}
