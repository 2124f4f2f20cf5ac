package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Gurpartap/taskflow/session"
)

// Supplementary extracts a fragment of structured data from a free-text reply
// and merges it into the state. Only configured keys are accepted.
//
// Recognized shapes, in order:
//   - a JSON object embedded anywhere in the reply
//   - "key: value" or "key = value" segments separated by newlines or ';'
//   - a bare single-line answer, when exactly one fallback key is still empty
type Supplementary struct {
	keys     []string
	aliases  map[string]string
	fallback []string
}

var _ Processor = (*Supplementary)(nil)

// NewSupplementary builds the processor. Aliases map alternative spellings
// (already normalized: lower case, underscores) to configured keys.
func NewSupplementary(keys []string, aliases map[string]string) (*Supplementary, error) {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		key = normalizeKey(key)
		if key == "" {
			return nil, fmt.Errorf("%w: supplementary: blank key", ErrInvalidConfig)
		}
		if !slices.Contains(cleaned, key) {
			cleaned = append(cleaned, key)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: supplementary: key set is empty", ErrInvalidConfig)
	}
	normalized := make(map[string]string, len(aliases))
	for alias, key := range aliases {
		key = normalizeKey(key)
		if !slices.Contains(cleaned, key) {
			return nil, fmt.Errorf("%w: supplementary: alias %q targets unknown key %q", ErrInvalidConfig, alias, key)
		}
		normalized[normalizeKey(alias)] = key
	}
	return &Supplementary{keys: cleaned, aliases: normalized, fallback: cleaned}, nil
}

// WithFallback restricts the bare-answer rule to keys. Unknown keys are ignored.
func (p *Supplementary) WithFallback(keys ...string) *Supplementary {
	fallback := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = normalizeKey(key); slices.Contains(p.keys, key) {
			fallback = append(fallback, key)
		}
	}
	out := *p
	out.fallback = fallback
	return &out
}

func (p *Supplementary) Process(_ context.Context, state session.State, reply Reply) error {
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return fmt.Errorf("%w: empty reply", ErrNoProgress)
	}

	fragment := p.Extract(text)
	if len(fragment) == 0 {
		if key, ok := p.soleEmptyKey(state); ok && !strings.Contains(text, "\n") {
			fragment = map[string]any{key: text}
		}
	}
	if len(fragment) == 0 {
		return fmt.Errorf("%w: no recognizable fields in reply", ErrNoProgress)
	}
	state.Merge(fragment)
	return nil
}

// Extract returns the fields found in text, keyed by configured key.
func (p *Supplementary) Extract(text string) map[string]any {
	if fragment := p.extractJSON(text); len(fragment) > 0 {
		return fragment
	}
	return p.extractPairs(text)
}

func (p *Supplementary) extractJSON(text string) map[string]any {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &decoded); err != nil {
		return nil
	}
	fragment := make(map[string]any, len(decoded))
	for rawKey, value := range decoded {
		key, ok := p.resolve(rawKey)
		if !ok || session.IsEmpty(value) {
			continue
		}
		fragment[key] = value
	}
	return fragment
}

func (p *Supplementary) extractPairs(text string) map[string]any {
	fragment := map[string]any{}
	segments := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ';'
	})
	for _, segment := range segments {
		idx := strings.IndexAny(segment, ":=")
		if idx <= 0 {
			continue
		}
		key, ok := p.resolve(segment[:idx])
		if !ok {
			continue
		}
		value := strings.Trim(strings.TrimSpace(segment[idx+1:]), `"'`)
		if value == "" {
			continue
		}
		fragment[key] = value
	}
	return fragment
}

func (p *Supplementary) resolve(raw string) (string, bool) {
	key := normalizeKey(raw)
	if alias, ok := p.aliases[key]; ok {
		return alias, true
	}
	if slices.Contains(p.keys, key) {
		return key, true
	}
	return "", false
}

func (p *Supplementary) soleEmptyKey(state session.State) (string, bool) {
	var empty []string
	for _, key := range p.fallback {
		if value, ok := state.Get(key); !ok || session.IsEmpty(value) {
			empty = append(empty, key)
		}
	}
	if len(empty) != 1 {
		return "", false
	}
	return empty[0], true
}

func normalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.Trim(key, `"'*-• `)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, key)
}
