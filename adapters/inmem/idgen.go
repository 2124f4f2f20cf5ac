// Package inmem holds in-process runtime collaborators that need no
// external service.
package inmem

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Gurpartap/taskflow/agent"
)

// CounterIDGenerator provides deterministic in-process session IDs, used by
// the chat command and tests.
type CounterIDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

func NewCounterIDGenerator(prefix string) *CounterIDGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &CounterIDGenerator{prefix: prefix}
}

var _ agent.IDGenerator = (*CounterIDGenerator)(nil)

func (g *CounterIDGenerator) NewRunID(ctx context.Context) (agent.RunID, error) {
	if ctx == nil {
		return "", agent.ErrContextNil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	next := g.counter.Add(1)
	return agent.RunID(fmt.Sprintf("%s-%06d", g.prefix, next)), nil
}
