package texttool

import (
	"sort"
	"strings"
	"unicode"
)

// categoryHints are extra words that count toward well-known categories.
var categoryHints = map[string][]string{
	"bug":           {"bug", "fix", "broken", "crash", "error", "fails", "failing", "issue", "regression"},
	"feature":       {"feature", "add", "implement", "support", "new", "build", "create"},
	"documentation": {"doc", "docs", "document", "documentation", "readme", "guide", "write"},
	"meeting":       {"meeting", "meet", "call", "sync", "standup", "schedule", "agenda"},
	"research":      {"research", "investigate", "explore", "evaluate", "spike", "compare"},
	"chore":         {"chore", "cleanup", "clean", "upgrade", "update", "rename", "refactor"},
	"design":        {"design", "mockup", "wireframe", "ui", "ux", "layout"},
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"can": {}, "for": {}, "from": {}, "has": {}, "have": {}, "i": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "need": {}, "needs": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "please": {}, "should": {}, "so": {}, "some": {}, "that": {},
	"the": {}, "their": {}, "then": {}, "there": {}, "this": {}, "to": {}, "up": {}, "us": {},
	"was": {}, "we": {}, "will": {}, "with": {}, "you": {}, "your": {}, "task": {}, "add": {},
}

// Classify scores each category by how many text tokens match the category
// name or its hints and returns the best one. Ties keep the earlier category.
func Classify(text string, categories []string) (string, map[string]int) {
	tokens := tokenize(text)
	counts := make(map[string]int, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}

	scores := make(map[string]int, len(categories))
	best, bestScore := "", -1
	for _, category := range categories {
		key := strings.ToLower(strings.TrimSpace(category))
		if key == "" {
			continue
		}
		words := map[string]struct{}{}
		for _, word := range tokenize(key) {
			words[word] = struct{}{}
		}
		for _, hint := range categoryHints[key] {
			words[hint] = struct{}{}
		}
		score := 0
		for word := range words {
			score += counts[word]
		}
		scores[category] = score
		if score > bestScore {
			best, bestScore = category, score
		}
	}
	return best, scores
}

// ExtractKeywords returns up to limit non stop-word tokens ordered by
// frequency, then by first appearance.
func ExtractKeywords(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxKeywords
	}
	type entry struct {
		word  string
		count int
		first int
	}
	index := map[string]*entry{}
	var entries []*entry
	for i, token := range tokenize(text) {
		if _, stop := stopWords[token]; stop || len([]rune(token)) < 3 {
			continue
		}
		if e, ok := index[token]; ok {
			e.count++
			continue
		}
		e := &entry{word: token, count: 1, first: i}
		index[token] = e
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].first < entries[j].first
	})

	out := make([]string, 0, min(limit, len(entries)))
	for _, e := range entries {
		if len(out) == limit {
			break
		}
		out = append(out, e.word)
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
