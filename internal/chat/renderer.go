package chat

import (
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const (
	clearLineControl = "\r\033[2K"
	defaultPrompt    = "taskflow> "
)

// Tone selects the colour of a printed line.
type Tone int

const (
	TonePlain Tone = iota
	ToneInfo
	ToneSuccess
	ToneWarn
	ToneError
)

// Renderer writes lines without clobbering an active prompt.
type Renderer struct {
	out         io.Writer
	prompt      string
	tones       map[Tone]*color.Color
	mu          sync.Mutex
	promptShown bool
}

func NewRenderer(out io.Writer, prompt string, noColor bool) *Renderer {
	if out == nil {
		out = io.Discard
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultPrompt
	}
	tones := map[Tone]*color.Color{
		ToneInfo:    color.New(color.FgCyan),
		ToneSuccess: color.New(color.FgGreen, color.Bold),
		ToneWarn:    color.New(color.FgYellow),
		ToneError:   color.New(color.FgRed),
	}
	for _, c := range tones {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return &Renderer{
		out:    out,
		prompt: prompt,
		tones:  tones,
	}
}

func (r *Renderer) ShowPrompt() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := io.WriteString(r.out, r.prompt); err != nil {
		return err
	}
	r.promptShown = true
	return nil
}

func (r *Renderer) HidePrompt() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.promptShown = false
}

func (r *Renderer) PrintLine(line string) error {
	return r.Print(TonePlain, line)
}

// Print writes one line in the given tone, redrawing the prompt if it was
// visible.
func (r *Renderer) Print(tone Tone, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	trimmed := strings.TrimRight(line, "\n")
	if c, ok := r.tones[tone]; ok && trimmed != "" {
		trimmed = c.Sprint(trimmed)
	}

	if r.promptShown {
		if _, err := io.WriteString(r.out, clearLineControl); err != nil {
			return err
		}
	}
	if trimmed != "" {
		if _, err := io.WriteString(r.out, trimmed); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(r.out, "\n"); err != nil {
		return err
	}
	if r.promptShown {
		_, err := io.WriteString(r.out, r.prompt)
		return err
	}
	return nil
}
