// Package termfreq encodes term sequences as per-document term counts.
package termfreq

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Frequencies maps a term to its number of occurrences in one document.
type Frequencies map[string]int

// Encode counts the occurrences of each term in terms.
// An empty sequence yields an empty, non-nil map.
func Encode(terms iter.Seq[string]) Frequencies {
	freqs := make(Frequencies)
	for term := range terms {
		freqs[term]++
	}
	return freqs
}

// EncodeSlice is Encode over a slice.
func EncodeSlice(terms []string) Frequencies {
	return Encode(slices.Values(terms))
}

// Distinct returns the number of distinct terms.
func (f Frequencies) Distinct() int {
	return len(f)
}

// Total returns the number of term occurrences.
func (f Frequencies) Total() int {
	total := 0
	for _, n := range f {
		total += n
	}
	return total
}

// Terms returns the terms in lexical order.
func (f Frequencies) Terms() []string {
	terms := make([]string, 0, len(f))
	for t := range f {
		terms = append(terms, t)
	}
	slices.Sort(terms)
	return terms
}

// Marshal serializes the map for storage.
func (f Frequencies) Marshal() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]int(f))
}

// Unmarshal decodes a stored map. Empty terms and non-positive counts are
// rejected so a decoded map always satisfies the encoder's output contract.
func Unmarshal(data []byte) (Frequencies, error) {
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode term frequencies: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode term frequencies: null map")
	}
	for term, n := range raw {
		if term == "" {
			return nil, fmt.Errorf("decode term frequencies: empty term")
		}
		if n <= 0 {
			return nil, fmt.Errorf("decode term frequencies: term %q has count %d", term, n)
		}
	}
	return Frequencies(raw), nil
}
