package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainNames(chain []Candidate) []string {
	names := make([]string, len(chain))
	for i, c := range chain {
		names[i] = c.Name
	}
	return names
}

func TestCandidateChain_DefaultOrder(t *testing.T) {
	chain, err := CandidateChain("")

	require.NoError(t, err)
	assert.Equal(t, []string{"utf-8", "latin-1", "utf-8-sig", "iso-8859-1"}, chainNames(chain))
}

func TestCandidateChain_DefaultSelectsUTF8ForValidUTF8Sample(t *testing.T) {
	chain, err := CandidateChain("")
	require.NoError(t, err)

	c, err := SelectCandidate([]byte("Cuarto de Hora;Clave Año_Mes\n"), chain)

	require.NoError(t, err)
	assert.Equal(t, "utf-8", c.Name)
}

func TestCandidateChain_ConfiguredEncodingGoesFirst(t *testing.T) {
	chain, err := CandidateChain("utf-8")

	require.NoError(t, err)
	assert.Equal(t, []string{"utf-8", "latin-1", "utf-8-sig", "iso-8859-1"}, chainNames(chain))
}

func TestCandidateChain_ConfiguredFallbackNotDuplicated(t *testing.T) {
	chain, err := CandidateChain("latin-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"latin-1", "utf-8-sig", "iso-8859-1"}, chainNames(chain))
}

func TestCandidateChain_NameNormalization(t *testing.T) {
	chain, err := CandidateChain("  UTF8 ")

	require.NoError(t, err)
	assert.Equal(t, "utf-8", chain[0].Name)
}

func TestCandidateChain_UnknownEncodingRejected(t *testing.T) {
	_, err := CandidateChain("ebcdic")

	assert.Error(t, err)
}

func TestSelectCandidate_UTF8RejectsInvalidBytes(t *testing.T) {
	chain, err := CandidateChain("utf-8")
	require.NoError(t, err)

	// 0xF3 is "ó" in latin-1 but not valid UTF-8 on its own.
	sample := []byte("Transacci\xf3n;Empresa\n")

	c, err := SelectCandidate(sample, chain)

	require.NoError(t, err)
	assert.Equal(t, "latin-1", c.Name)
}

func TestSelectCandidate_UTF8AcceptsTruncatedTrailingRune(t *testing.T) {
	chain, err := CandidateChain("utf-8")
	require.NoError(t, err)

	// A multi-byte rune cut by the 4KB sample boundary must not disqualify
	// UTF-8 for the whole file.
	sample := []byte("FECHA,HORA\n2024,niñ")
	sample = sample[:len(sample)-1] // drop the second byte of "ñ"

	c, err := SelectCandidate(sample, chain)

	require.NoError(t, err)
	assert.Equal(t, "utf-8", c.Name)
}

func TestSelectCandidate_NoCandidateAccepts(t *testing.T) {
	utf8Only := []Candidate{{Name: "utf-8", valid: validUTF8Sample}}

	_, err := SelectCandidate([]byte{0xff, 0xfe, 0xfd}, utf8Only)

	assert.ErrorIs(t, err, ErrNoEncoding)
}

func TestDetectDelimiter_CommaWinsWhenStrictlyMoreFrequent(t *testing.T) {
	assert.Equal(t, ',', DetectDelimiter([]byte("a,b,c;d\n1,2,3\n")))
}

func TestDetectDelimiter_SemicolonWinsTies(t *testing.T) {
	assert.Equal(t, ';', DetectDelimiter([]byte("a,b;c\n")))
	assert.Equal(t, ';', DetectDelimiter([]byte("no delimiters here\n")))
}

func TestDetectDelimiter_SemicolonMajority(t *testing.T) {
	assert.Equal(t, ';', DetectDelimiter([]byte("a;b;c,d\n1;2;3\n")))
}
