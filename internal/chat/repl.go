// Package chat is the interactive terminal front end for task-filing
// sessions.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrQuit = errors.New("quit chat")

type Handlers struct {
	Start  func(ctx context.Context, request string) error
	Say    func(ctx context.Context, text string) error
	Status func(ctx context.Context) error
	Cancel func(ctx context.Context) error
}

type REPL struct {
	in       *bufio.Reader
	renderer *Renderer
	handlers Handlers
}

func NewREPL(in io.Reader, renderer *Renderer, handlers Handlers) *REPL {
	if in == nil {
		in = strings.NewReader("")
	}
	if renderer == nil {
		renderer = NewRenderer(io.Discard, defaultPrompt, true)
	}
	return &REPL{
		in:       bufio.NewReader(in),
		renderer: renderer,
		handlers: handlers,
	}
}

func (r *REPL) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := r.renderer.ShowPrompt(); err != nil {
			return err
		}
		line, err := r.in.ReadString('\n')
		r.renderer.HidePrompt()
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			continue
		}

		dispatchErr := r.dispatch(ctx, trimmed)
		switch {
		case dispatchErr == nil:
		case errors.Is(dispatchErr, ErrQuit):
			return nil
		default:
			if writeErr := r.renderer.Print(ToneError, "error: "+dispatchErr.Error()); writeErr != nil {
				return writeErr
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (r *REPL) dispatch(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		if r.handlers.Say == nil {
			return errors.New("chat is not configured")
		}
		return r.handlers.Say(ctx, line)
	}

	commandWithPrefix := line
	args := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		commandWithPrefix = line[:i]
		args = strings.TrimSpace(line[i+1:])
	}

	switch strings.TrimPrefix(commandWithPrefix, "/") {
	case "new":
		if args == "" {
			return errors.New("/new requires request text")
		}
		if r.handlers.Start == nil {
			return errors.New("new command is not configured")
		}
		return r.handlers.Start(ctx, args)
	case "status":
		if r.handlers.Status == nil {
			return errors.New("status command is not configured")
		}
		return r.handlers.Status(ctx)
	case "cancel":
		if r.handlers.Cancel == nil {
			return errors.New("cancel command is not configured")
		}
		return r.handlers.Cancel(ctx)
	case "quit", "exit":
		return ErrQuit
	default:
		return fmt.Errorf("unsupported command %q", commandWithPrefix)
	}
}
