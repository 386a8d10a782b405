package tokenize

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultCodeStopWords contains programming keywords filtered by the code
// tokenizer.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"err", "ctx", "tmp",
}

// minCodeTokenLength drops single-character fragments such as loop indices.
const minCodeTokenLength = 2

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Code tokenizes source-like text: camelCase, PascalCase and snake_case
// identifiers are split into parts, everything is lowercased.
type Code struct {
	stopWords map[string]struct{}
}

// NewCode creates a code tokenizer with the given stop words.
func NewCode(stopWords []string) *Code {
	return &Code{stopWords: BuildStopWordMap(stopWords)}
}

// Tokenize implements Tokenizer.
func (c *Code) Tokenize(text string) []string {
	tokens := make([]string, 0)
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			lower := strings.ToLower(part)
			if len([]rune(lower)) < minCodeTokenLength {
				continue
			}
			if _, stop := c.stopWords[lower]; stop {
				continue
			}
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case first, then camelCase within each part.
func SplitIdentifier(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronyms together:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lowercase lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
