package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/loop"
	"github.com/Gurpartap/taskflow/session"
)

// questionPreparer asks the model to phrase the follow-up question for the
// detail collector and falls back to the template's static question.
type questionPreparer struct {
	model    agent.Model
	plan     CollectPlan
	fields   []string
	fallback loop.StaticPrompt
}

var _ loop.Preparer = (*questionPreparer)(nil)

func newQuestionPreparer(model agent.Model, tpl Template) *questionPreparer {
	return &questionPreparer{
		model:    model,
		plan:     tpl.Collect,
		fields:   tpl.Fields,
		fallback: loop.StaticPrompt{Text: tpl.Collect.Question},
	}
}

func (p *questionPreparer) Prepare(ctx context.Context, state session.State, turn loop.Turn) (loop.Prompt, error) {
	if p.model == nil {
		return p.fallback.Prepare(ctx, state, turn)
	}

	var known strings.Builder
	for _, key := range p.fields {
		if value, ok := state.Get(key); ok && !session.IsEmpty(value) {
			fmt.Fprintf(&known, "- %s: %v\n", key, value)
		}
	}
	content := fmt.Sprintf(
		"Request: %s\nKnown fields:\n%sMissing fields: %s\nThis is question %d of at most %d.",
		state.String(KeyRequest),
		known.String(),
		strings.Join(turn.Missing, ", "),
		turn.Iteration,
		turn.MaxIterations,
	)
	reply, err := p.model.Generate(ctx, agent.ModelRequest{
		Purpose: PurposeQuestion,
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: p.plan.Instructions},
			{Role: agent.RoleUser, Content: content},
		},
	})
	if err != nil {
		if isFatal(ctx, err) {
			return loop.Prompt{}, err
		}
		return p.fallback.Prepare(ctx, state, turn)
	}
	question := strings.TrimSpace(reply.Content)
	if question == "" {
		return p.fallback.Prepare(ctx, state, turn)
	}
	return loop.Prompt{Content: question, Missing: turn.Missing}, nil
}

// proposalPreparer runs the classifier and renders its proposal. A new
// proposal is made on the first turn and whenever feedback is pending; the
// feedback is consumed once applied.
type proposalPreparer struct {
	classifier *Classifier
}

var _ loop.Preparer = (*proposalPreparer)(nil)

func (p *proposalPreparer) Prepare(ctx context.Context, state session.State, _ loop.Turn) (loop.Prompt, error) {
	var proposal Classification
	found, err := state.Decode(KeyProposedClassification, &proposal)
	if !found || err != nil || state.String(KeyClassificationFeedback) != "" {
		proposal, err = p.classifier.Propose(ctx, state)
		if err != nil {
			return loop.Prompt{}, err
		}
		if err := recordProposal(state, proposal); err != nil {
			return loop.Prompt{}, err
		}
		state.Delete(KeyClassificationFeedback)
	}
	return loop.Prompt{Content: ProposalText(state.String(KeyTaskName), proposal)}, nil
}

func recordProposal(state session.State, proposal Classification) error {
	if err := state.Encode(KeyProposedClassification, proposal); err != nil {
		return err
	}
	state.Set(KeyTaskType, proposal.Type)
	state.Set(KeyTaskPriority, proposal.Priority)
	return nil
}
