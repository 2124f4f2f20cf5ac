package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/session"
	"github.com/Gurpartap/taskflow/tooling/texttool"
)

var ErrClassificationInvalid = errors.New("classification is invalid")

// Classification is the proposal the human confirms in the classification loop.
type Classification struct {
	Type          string `json:"type" validate:"required"`
	Priority      string `json:"priority" validate:"required"`
	Complexity    string `json:"complexity" validate:"required,oneof=simple moderate complex"`
	EstimatedTime string `json:"estimated_time" validate:"required"`
}

func (c Classification) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrClassificationInvalid, err)
	}
	return nil
}

func (c Classification) normalized() Classification {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	c.Priority = strings.ToLower(strings.TrimSpace(c.Priority))
	c.Complexity = strings.ToLower(strings.TrimSpace(c.Complexity))
	c.EstimatedTime = strings.TrimSpace(c.EstimatedTime)
	return c
}

var complexityEstimates = map[string]string{
	"simple":   "2 hours",
	"moderate": "1 day",
	"complex":  "1 week",
}

// Classifier proposes a classification for the task held in state. When
// state carries feedback on an earlier proposal, the new proposal applies it.
type Classifier struct {
	model agent.Model
	plan  ClassifyPlan
}

func NewClassifier(model agent.Model, plan ClassifyPlan) *Classifier {
	return &Classifier{model: model, plan: plan}
}

func (c *Classifier) Propose(ctx context.Context, state session.State) (Classification, error) {
	var previous *Classification
	var decoded Classification
	if found, err := state.Decode(KeyProposedClassification, &decoded); found && err == nil {
		previous = &decoded
	}
	feedback := state.String(KeyClassificationFeedback)

	if c.model != nil {
		proposal, err := c.ask(ctx, state, previous, feedback)
		if err == nil {
			return proposal, nil
		}
		if isFatal(ctx, err) {
			return Classification{}, err
		}
	}
	if previous != nil && strings.TrimSpace(feedback) != "" {
		return c.revise(*previous, feedback), nil
	}
	return c.heuristic(state), nil
}

func (c *Classifier) ask(ctx context.Context, state session.State, previous *Classification, feedback string) (Classification, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Task: %s\nDetails: %s\n", state.String(KeyTaskName), state.String(KeyDetails))
	if priority := state.String(KeyPriority); priority != "" {
		fmt.Fprintf(&prompt, "Requested priority: %s\n", priority)
	}
	if previous != nil {
		fmt.Fprintf(&prompt, "Previous proposal: type=%s priority=%s complexity=%s estimated_time=%s\n",
			previous.Type, previous.Priority, previous.Complexity, previous.EstimatedTime)
	}
	if strings.TrimSpace(feedback) != "" {
		fmt.Fprintf(&prompt, "Reviewer feedback: %s\n", feedback)
	}

	reply, err := c.model.Generate(ctx, agent.ModelRequest{
		Purpose: PurposeClassify,
		JSON:    true,
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: c.instructions()},
			{Role: agent.RoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		return Classification{}, err
	}
	var proposal Classification
	if err := decodeObject(reply.Content, &proposal); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrClassificationInvalid, err)
	}
	proposal = proposal.normalized()
	if err := proposal.Validate(); err != nil {
		return Classification{}, err
	}
	return proposal, nil
}

func (c *Classifier) instructions() string {
	return fmt.Sprintf(
		"You are a task classification assistant. Propose a classification with "+
			"type (one of: %s), priority (one of: %s), complexity (simple, moderate or complex) "+
			"and estimated_time (for example \"2 hours\" or \"3 days\"). If reviewer feedback is "+
			"present, revise the previous proposal accordingly. "+
			`Answer with {"type": "", "priority": "", "complexity": "", "estimated_time": ""}.`,
		strings.Join(c.plan.Types, ", "),
		strings.Join(c.plan.Priorities, ", "),
	)
}

func (c *Classifier) heuristic(state session.State) Classification {
	text := strings.Join([]string{
		state.String(KeyTaskName),
		state.String(KeyDetails),
		state.String(KeyRequest),
	}, " ")

	taskType, scores := texttool.Classify(text, c.plan.Types)
	if scores[taskType] == 0 {
		taskType = c.plan.Types[0]
	}

	priority := "medium"
	if !containsFold(c.plan.Priorities, priority) {
		priority = c.plan.Priorities[len(c.plan.Priorities)/2]
	}
	if requested := state.String(KeyPriority); containsFold(c.plan.Priorities, requested) {
		priority = requested
	} else if urgencyPattern.MatchString(text) {
		priority = c.plan.Priorities[0]
	}

	complexity := "simple"
	switch words := len(strings.Fields(state.String(KeyDetails))); {
	case words > 40:
		complexity = "complex"
	case words > 12:
		complexity = "moderate"
	}

	return Classification{
		Type:          taskType,
		Priority:      priority,
		Complexity:    complexity,
		EstimatedTime: complexityEstimates[complexity],
	}.normalized()
}

var estimatePattern = regexp.MustCompile(`(?i)\b(\d+)\s*(minutes?|hours?|days?|weeks?)\b`)

// revise applies free-text feedback such as "make it high priority" or
// "that's a bug, about 3 days" to a previous proposal.
func (c *Classifier) revise(previous Classification, feedback string) Classification {
	out := previous
	lower := strings.ToLower(feedback)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	contains := func(word string) bool {
		for _, w := range words {
			if w == word {
				return true
			}
		}
		return false
	}

	for _, taskType := range c.plan.Types {
		if contains(strings.ToLower(taskType)) {
			out.Type = taskType
			break
		}
	}
	for _, priority := range c.plan.Priorities {
		if contains(strings.ToLower(priority)) {
			out.Priority = priority
			break
		}
	}
	if urgencyPattern.MatchString(feedback) {
		out.Priority = c.plan.Priorities[0]
	}
	for _, complexity := range []string{"simple", "moderate", "complex"} {
		if contains(complexity) {
			out.Complexity = complexity
			out.EstimatedTime = complexityEstimates[complexity]
			break
		}
	}
	if m := estimatePattern.FindStringSubmatch(feedback); m != nil {
		out.EstimatedTime = m[1] + " " + strings.ToLower(m[2])
	}
	return out.normalized()
}

// ProposalText renders a proposal as the confirmation question.
func ProposalText(taskName string, proposal Classification) string {
	subject := "this task"
	if strings.TrimSpace(taskName) != "" {
		subject = fmt.Sprintf("%q", taskName)
	}
	return fmt.Sprintf(
		"Proposed classification for %s:\n- type: %s\n- priority: %s\n- complexity: %s\n- estimated time: %s\n"+
			"Reply \"yes\" to confirm, or tell me what to change.",
		subject,
		proposal.Type,
		proposal.Priority,
		proposal.Complexity,
		proposal.EstimatedTime,
	)
}
