package usecase

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/tidwall/jsonc"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

const (
	// MaxModelResponseBytes bounds the text handed to the parser. Longer
	// responses are rejected and archived as oversized.
	MaxModelResponseBytes = 64 << 10

	maxObjectCandidates = 32
)

// ErrOversizedResponse marks a model response longer than
// MaxModelResponseBytes.
var ErrOversizedResponse = errors.New("model response too large")

// NormalizeClassification turns a raw model response into a validated
// Classification. It fails only when no JSON object can be recovered from raw;
// unknown enum values are coerced to defaults and flagged as degraded.
func NormalizeClassification(raw string) (domain.Classification, error) {
	if len(raw) > MaxModelResponseBytes {
		return domain.Classification{}, domain.WrapError(domain.ErrClassificationParse, "normalize classification",
			fmt.Errorf("%w: %d bytes", ErrOversizedResponse, len(raw)))
	}
	obj, err := decodeFirstObject(raw)
	if err != nil {
		return domain.Classification{}, domain.WrapError(domain.ErrClassificationParse, "normalize classification", err)
	}

	var cls domain.Classification
	var reasons []string

	rawCategory := lookupField(obj, "category")
	category, ok := matchCategory(rawCategory)
	if !ok {
		category = domain.DefaultCategory
		reasons = append(reasons, fmt.Sprintf("category %s coerced to %s", describeValue(rawCategory), category))
	}
	cls.Category = category

	rawPriority := lookupField(obj, "priority")
	priority, ok := matchPriority(rawPriority)
	if !ok {
		priority = domain.DefaultPriority
		reasons = append(reasons, fmt.Sprintf("priority %s coerced to %s", describeValue(rawPriority), priority))
	}
	cls.Priority = priority

	cls.Summary = truncateRunes(stringValue(lookupField(obj, "summary")), domain.MaxTextLength)
	cls.RootCause = truncateRunes(stringValue(lookupField(obj, "root_cause")), domain.MaxTextLength)
	cls.ActionItems = normalizeActionItems(lookupField(obj, "action_items"))

	if len(reasons) > 0 {
		cls.Degraded = true
		cls.DegradedReasons = reasons
	}
	return cls, nil
}

// decodeFirstObject returns the first balanced {...} block of raw that
// decodes as a JSON object. Comments and trailing commas are allowed.
func decodeFirstObject(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty model response")
	}

	for i, block := range balancedBlocks(raw) {
		if i == maxObjectCandidates {
			break
		}
		if obj, ok := decodeObject(raw[block.start : block.end+1]); ok {
			return obj, nil
		}
	}

	// Unbalanced output sometimes still parses between the outermost braces.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if obj, ok := decodeObject(raw[start : end+1]); ok {
			return obj, nil
		}
	}
	return nil, errors.New("no json object in model response")
}

func decodeObject(candidate string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(candidate)), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

type span struct {
	start, end int
}

// balancedBlocks finds every balanced brace pair of s in a single pass,
// ordered by opening position. Braces inside string literals are skipped;
// quotes outside any block are prose and ignored.
func balancedBlocks(s string) []span {
	var open []int
	var blocks []span
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if n := len(open); n > 0 {
				blocks = append(blocks, span{start: open[n-1], end: i})
				open = open[:n-1]
			}
		}
	}
	slices.SortFunc(blocks, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	return blocks
}

// lookupField finds key ignoring case and separators, so rootCause,
// "Root Cause" and root_cause all resolve.
func lookupField(obj map[string]any, key string) any {
	if v, ok := obj[key]; ok {
		return v
	}
	want := canonicalKey(key)
	for k, v := range obj {
		if canonicalKey(k) == want {
			return v
		}
	}
	return nil
}

func canonicalKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchCategory(v any) (domain.Category, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	names := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		names = append(names, string(c))
	}
	idx, ok := matchEnum(s, names)
	if !ok {
		return "", false
	}
	return domain.Category(names[idx]), true
}

func matchPriority(v any) (domain.Priority, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	names := make([]string, 0, len(domain.Priorities()))
	for _, p := range domain.Priorities() {
		names = append(names, string(p))
	}
	idx, ok := matchEnum(s, names)
	if !ok {
		return "", false
	}
	return domain.Priority(names[idx]), true
}

// matchEnum resolves s against names: first by case-insensitive equality of
// the word sequence, then by whole-word containment. When several names are
// contained the earliest one in s wins. Containment is refused when s carries
// a negation, so "not high" falls back to the default instead of High.
func matchEnum(s string, names []string) (int, bool) {
	words := splitWords(s)
	if len(words) == 0 {
		return 0, false
	}

	for i, name := range names {
		if strings.EqualFold(strings.TrimSpace(s), name) || equalWords(words, splitWords(name)) {
			return i, true
		}
	}

	if slices.ContainsFunc(words, isNegation) {
		return 0, false
	}

	best, bestPos := -1, len(words)
	for i, name := range names {
		if pos := indexWords(words, splitWords(name)); pos >= 0 && pos < bestPos {
			best, bestPos = i, pos
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func isNegation(word string) bool {
	switch word {
	case "not", "no", "non", "never":
		return true
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexWords(haystack, needle []string) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if equalWords(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func normalizeActionItems(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(stringValue(item))
		if text == "" {
			continue
		}
		out = append(out, truncateRunes(text, domain.MaxActionItemLength))
	}
	return out
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64, bool:
		return fmt.Sprint(value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	}
}

func describeValue(v any) string {
	if v == nil {
		return "<missing>"
	}
	return fmt.Sprintf("%q", stringValue(v))
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
