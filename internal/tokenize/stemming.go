package tokenize

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Stemming runs text through bleve's unicode word segmenter, a lowercase
// filter and the Porter stemmer. Stop words are kept.
type Stemming struct {
	tokenizer analysis.Tokenizer
	filters   []analysis.TokenFilter
}

// NewStemming creates a stemming tokenizer.
func NewStemming() *Stemming {
	return &Stemming{
		tokenizer: unicode.NewUnicodeTokenizer(),
		filters: []analysis.TokenFilter{
			lowercase.NewLowerCaseFilter(),
			porter.NewPorterStemmer(),
		},
	}
}

// Tokenize implements Tokenizer.
func (s *Stemming) Tokenize(text string) []string {
	if text == "" {
		return []string{}
	}

	stream := s.tokenizer.Tokenize([]byte(text))
	for _, f := range s.filters {
		stream = f.Filter(stream)
	}

	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}
