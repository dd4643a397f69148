// Package loader reads delimited market extracts into raw rows, detecting
// the field delimiter and character encoding from a sample of the file.
package loader

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoEncoding is returned when no candidate encoding accepts the sampled
// file content.
var ErrNoEncoding = errors.New("no candidate encoding decodes the file")

// Candidate is one encoding strategy: a name, a decoder, and a sample
// validity check. Candidates are tried in order until one accepts the sample
// (spec'd behavior for dirty operator-produced extracts).
type Candidate struct {
	Name string

	enc   encoding.Encoding
	valid func(sample []byte) bool
}

// Reader wraps r with this candidate's decoder.
func (c Candidate) Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, c.enc.NewDecoder())
}

// Accepts reports whether the sample is valid content for this encoding.
func (c Candidate) Accepts(sample []byte) bool {
	if c.valid == nil {
		return true
	}

	return c.valid(sample)
}

// validUTF8Sample checks UTF-8 validity of a sample, tolerating a rune
// truncated by the sample boundary.
func validUTF8Sample(sample []byte) bool {
	// Trim up to three trailing bytes of an incomplete multi-byte rune.
	for i := 0; i < utf8.UTFMax-1 && len(sample) > 0; i++ {
		if utf8.Valid(sample) {
			return true
		}

		sample = sample[:len(sample)-1]
	}

	return utf8.Valid(sample)
}

// candidateByName builds a Candidate for a configured encoding name.
// Single-byte charmaps accept any byte sequence, so they never reject a
// sample; that matches the original tool, where latin-1 terminated the
// fallback chain.
func candidateByName(name string) (Candidate, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8":
		return Candidate{Name: "utf-8", enc: unicode.UTF8, valid: validUTF8Sample}, true
	case "utf-8-sig":
		return Candidate{Name: "utf-8-sig", enc: unicode.UTF8BOM, valid: validUTF8Sample}, true
	case "latin-1", "latin1":
		return Candidate{Name: "latin-1", enc: charmap.ISO8859_1}, true
	case "iso-8859-1":
		return Candidate{Name: "iso-8859-1", enc: charmap.ISO8859_1}, true
	case "windows-1252", "cp1252":
		return Candidate{Name: "windows-1252", enc: charmap.Windows1252}, true
	}

	return Candidate{}, false
}

// CandidateChain returns the ordered encoding strategies for a file: the
// configured encoding first (utf-8 when none is configured), then latin-1,
// utf-8-sig, and iso-8859-1. Charmap candidates accept any byte sequence, so
// only the first slot can reject a sample. An unrecognized configured name
// yields an error rather than a silent skip.
func CandidateChain(configured string) ([]Candidate, error) {
	if configured == "" {
		configured = "utf-8"
	}

	chain := make([]Candidate, 0, 4)

	first, ok := candidateByName(configured)
	if !ok {
		return nil, fmt.Errorf("unknown encoding %q", configured)
	}

	chain = append(chain, first)

	for _, name := range []string{"latin-1", "utf-8-sig", "iso-8859-1"} {
		c, _ := candidateByName(name)
		if chain[0].Name == c.Name {
			continue
		}

		chain = append(chain, c)
	}

	return chain, nil
}

// SelectCandidate picks the first candidate accepting the sample. Pure
// function so the strategy order is directly testable.
func SelectCandidate(sample []byte, chain []Candidate) (Candidate, error) {
	for _, c := range chain {
		if c.Accepts(sample) {
			return c, nil
		}
	}

	return Candidate{}, ErrNoEncoding
}

// DetectDelimiter compares comma and semicolon counts in the sample; the
// higher count wins and semicolon wins ties (original tool behavior).
func DetectDelimiter(sample []byte) rune {
	commas := 0
	semicolons := 0

	for _, b := range sample {
		switch b {
		case ',':
			commas++
		case ';':
			semicolons++
		}
	}

	if commas > semicolons {
		return ','
	}

	return ';'
}
