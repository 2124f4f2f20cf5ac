package chat

import (
	"context"
	"io"
)

// Run drives an interactive session loop over in and out until EOF, /quit
// or ctx is done.
func Run(ctx context.Context, service Service, in io.Reader, out io.Writer, noColor bool) error {
	renderer := NewRenderer(out, defaultPrompt, noColor)
	if err := renderer.Print(ToneInfo, "describe a task to file it in Notion. commands: /new /status /cancel /quit"); err != nil {
		return err
	}
	controller := NewController(service, renderer)
	return NewREPL(in, renderer, controller.Handlers()).Run(ctx)
}
