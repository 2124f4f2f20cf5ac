// Package loop implements the bounded human-in-the-loop controller: a
// suspend/resume cycle that alternates between asking a human for input and
// folding the answer into session state, until a completion checker passes or
// an iteration ceiling is hit.
package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gurpartap/taskflow/session"
)

// Config wires the three collaborators of a controller.
type Config struct {
	Name          string `validate:"required"`
	MaxIterations int    `validate:"gte=1"`
	// StatusKey is where the completion status is written. Defaults to Name + "_status".
	StatusKey string
	Checker   Checker   `validate:"required"`
	Preparer  Preparer  `validate:"required"`
	Processor Processor `validate:"required"`
}

func (c Config) statusKey() string {
	if key := strings.TrimSpace(c.StatusKey); key != "" {
		return key
	}
	return c.Name + "_status"
}

// Progress is the serializable position of a controller.
type Progress struct {
	Iteration int              `json:"iteration"`
	Started   bool             `json:"started"`
	Status    CompletionStatus `json:"status,omitempty"`
}

func (p Progress) Terminated() bool {
	return p.Status != ""
}

// Outcome is the result of one Advance call. Exactly one of Suspended or
// Done() holds.
type Outcome struct {
	Loop      string           `json:"loop"`
	Iteration int              `json:"iteration"`
	Suspended bool             `json:"suspended"`
	Prompt    Prompt           `json:"prompt,omitzero"`
	Status    CompletionStatus `json:"status,omitempty"`
	// ProcessErr holds the non-fatal reply processing failure of this call, if any.
	ProcessErr error `json:"-"`
}

func (o Outcome) Done() bool {
	return o.Status != ""
}

// Controller runs one bounded loop. It is not safe for concurrent use; the
// runtime serializes commands per run.
type Controller struct {
	cfg       Config
	statusKey string
	progress  Progress
}

func New(cfg Config) (*Controller, error) {
	return Restore(cfg, Progress{})
}

// Restore rebuilds a controller at a previously observed position.
func Restore(cfg Config, progress Progress) (*Controller, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if err := validate.Struct(cfg); err != nil {
		return nil, validationError("loop "+cfg.Name, err)
	}
	if progress.Iteration < 0 {
		return nil, fmt.Errorf("%w: loop %s: negative iteration %d", ErrInvalidConfig, cfg.Name, progress.Iteration)
	}
	if !progress.Status.valid() {
		return nil, fmt.Errorf("%w: loop %s: unknown status %q", ErrInvalidConfig, cfg.Name, progress.Status)
	}
	if progress.Iteration > 0 && !progress.Started {
		progress.Started = true
	}
	return &Controller{
		cfg:       cfg,
		statusKey: cfg.statusKey(),
		progress:  progress,
	}, nil
}

func (c *Controller) Name() string {
	return c.cfg.Name
}

func (c *Controller) StatusKey() string {
	return c.statusKey
}

func (c *Controller) MaxIterations() int {
	return c.cfg.MaxIterations
}

func (c *Controller) Iteration() int {
	return c.progress.Iteration
}

func (c *Controller) Progress() Progress {
	return c.progress
}

// Advance runs one step of the loop.
//
// Every call after the first hands reply to the processor. The iteration
// count is then incremented. Once the count exceeds the ceiling the loop
// terminates with StatusMaxLoopsReached, even if the reply would have
// satisfied the checker. Otherwise a satisfied checker terminates it with the
// checker's success status, and in all other cases the preparer is called and
// the outcome is a suspension.
//
// A preparer error is returned as-is; the iteration still counts.
func (c *Controller) Advance(ctx context.Context, state session.State, reply *Reply) (Outcome, error) {
	if ctx == nil {
		return Outcome{}, ErrContextNil
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if state == nil {
		return Outcome{}, ErrStateNil
	}
	if c.progress.Terminated() {
		return Outcome{}, fmt.Errorf("%w: loop=%s status=%s", ErrTerminated, c.cfg.Name, c.progress.Status)
	}

	var processErr error
	if c.progress.Started {
		if reply == nil {
			processErr = fmt.Errorf("%w: missing reply", ErrNoProgress)
		} else {
			processErr = c.cfg.Processor.Process(ctx, state, *reply)
		}
	}

	c.progress.Started = true
	c.progress.Iteration++
	outcome := Outcome{
		Loop:       c.cfg.Name,
		Iteration:  c.progress.Iteration,
		ProcessErr: processErr,
	}

	switch {
	case c.progress.Iteration > c.cfg.MaxIterations:
		return c.terminate(state, outcome, StatusMaxLoopsReached), nil
	case c.cfg.Checker.Satisfied(state):
		return c.terminate(state, outcome, c.cfg.Checker.SuccessStatus()), nil
	}

	turn := Turn{
		Loop:          c.cfg.Name,
		Iteration:     c.progress.Iteration,
		MaxIterations: c.cfg.MaxIterations,
	}
	if reporter, ok := c.cfg.Checker.(MissingReporter); ok {
		turn.Missing = reporter.Missing(state)
	}
	prompt, err := c.cfg.Preparer.Prepare(ctx, state, turn)
	if err != nil {
		return outcome, fmt.Errorf("loop %s: prepare turn %d: %w", c.cfg.Name, turn.Iteration, err)
	}
	if prompt.Missing == nil {
		prompt.Missing = turn.Missing
	}
	outcome.Suspended = true
	outcome.Prompt = prompt
	return outcome, nil
}

func (c *Controller) terminate(state session.State, outcome Outcome, status CompletionStatus) Outcome {
	c.progress.Status = status
	state.Set(c.statusKey, string(status))
	outcome.Status = status
	return outcome
}
