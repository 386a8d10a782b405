// Package tokenize turns raw text into sequences of normalized terms.
//
// A Tokenizer is chosen once, when an index or query engine is built, and
// the same strategy must be used for indexing and querying the same index.
package tokenize

import (
	"fmt"
	"strings"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// Tokenizer turns text into normalized terms. Implementations are
// deterministic for identical input and safe for concurrent use.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Strategy names a tokenizer implementation.
type Strategy string

const (
	// StrategyWhitespace splits on whitespace without normalization.
	StrategyWhitespace Strategy = "whitespace"

	// StrategyStemming lowercases and Porter-stems unicode word tokens (default).
	StrategyStemming Strategy = "stemming"

	// StrategyCode splits camelCase and snake_case identifiers and drops
	// common keywords.
	StrategyCode Strategy = "code"
)

// DefaultStrategy is used when no tokenizer is configured.
const DefaultStrategy = StrategyStemming

// Strategies lists the accepted strategy names.
func Strategies() []Strategy {
	return []Strategy{StrategyWhitespace, StrategyStemming, StrategyCode}
}

// New creates the tokenizer for the named strategy.
// An empty name selects DefaultStrategy; an unknown one is
// ERR_102_CONFIG_INVALID.
func New(name string) (Tokenizer, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(name))) {
	case "", StrategyStemming:
		return NewStemming(), nil
	case StrategyWhitespace:
		return Whitespace{}, nil
	case StrategyCode:
		return NewCode(DefaultCodeStopWords), nil
	default:
		return nil, ferrors.ConfigError(fmt.Sprintf("unknown tokenizer: %s", name), nil).
			WithDetail("tokenizer", name).
			WithSuggestion("Use one of: whitespace, stemming, code")
	}
}

// Whitespace splits text on unicode whitespace and keeps tokens verbatim.
type Whitespace struct{}

// Tokenize implements Tokenizer.
func (Whitespace) Tokenize(text string) []string {
	return strings.Fields(text)
}

// Func adapts a plain function to the Tokenizer interface.
type Func func(text string) []string

// Tokenize implements Tokenizer.
func (f Func) Tokenize(text string) []string {
	return f(text)
}
