package loop

import (
	"fmt"
	"strings"

	"github.com/Gurpartap/taskflow/session"
)

type CritiqueStatus string

const (
	CritiqueStatusComplete   CritiqueStatus = "complete"
	CritiqueStatusIncomplete CritiqueStatus = "incomplete"
)

// Critique is a reviewer's verdict on collected data.
type Critique struct {
	Status   CritiqueStatus `json:"status" validate:"required,oneof=complete incomplete"`
	Feedback string         `json:"feedback,omitempty"`
}

func (c Critique) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError("critique", err)
	}
	return nil
}

// CritiqueFromState decodes and validates the critique stored under key.
func CritiqueFromState(state session.State, key string) (Critique, bool) {
	var critique Critique
	found, err := state.Decode(key, &critique)
	if !found || err != nil {
		return Critique{}, false
	}
	if critique.Validate() != nil {
		return Critique{}, false
	}
	return critique, true
}

// Assess builds a critique from a checker's view of the state.
func Assess(checker Checker, state session.State) Critique {
	if checker.Satisfied(state) {
		return Critique{Status: CritiqueStatusComplete}
	}
	critique := Critique{Status: CritiqueStatusIncomplete}
	if reporter, ok := checker.(MissingReporter); ok {
		if missing := reporter.Missing(state); len(missing) > 0 {
			critique.Feedback = fmt.Sprintf("missing: %s", strings.Join(missing, ", "))
		}
	}
	return critique
}
