package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gridmart-io/gridmart/internal/dataset"
)

// ErrLoadFailed is returned when a file cannot be opened or decoded in any
// tried encoding. Fatal for that dataset; other datasets are unaffected.
var ErrLoadFailed = errors.New("record load failed")

// sampleSize is how much of the file is inspected to detect the delimiter
// and validate encoding candidates.
const sampleSize = 4096

// Loader opens delimited extract files and produces raw row streams.
type Loader struct {
	logger       *slog.Logger
	encodingHint string
}

// Option configures optional Loader behavior.
type Option func(*Loader)

// WithEncodingHint sets the encoding tried before the fallback chain.
func WithEncodingHint(name string) Option {
	return func(l *Loader) {
		l.encodingHint = name
	}
}

// NewLoader creates a Loader writing diagnostics to logger.
func NewLoader(logger *slog.Logger, opts ...Option) *Loader {
	l := &Loader{logger: logger}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Open prepares a streaming reader over the file at path. The first 4KB are
// sampled to pick the delimiter and encoding; rows are then decoded
// incrementally. The stream is restartable by calling Open again.
func (l *Loader) Open(path string) (*RowReader, error) {
	chain, err := CandidateChain(l.encodingHint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	file, err := os.Open(path) //nolint:gosec // path comes from the operator's manifest
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	sample := make([]byte, sampleSize)

	n, err := io.ReadFull(file, sample)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		_ = file.Close()

		return nil, fmt.Errorf("%w: sampling %s: %w", ErrLoadFailed, path, err)
	}

	sample = sample[:n]

	enc, err := SelectCandidate(sample, chain)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, path, err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("%w: rewinding %s: %w", ErrLoadFailed, path, err)
	}

	delimiter := DetectDelimiter(sample)

	csvReader := csv.NewReader(enc.Reader(file))
	csvReader.Comma = delimiter
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("%w: reading header of %s: %w", ErrLoadFailed, path, err)
	}

	l.logger.Info("Opened extract file",
		slog.String("path", path),
		slog.String("encoding", enc.Name),
		slog.String("delimiter", string(delimiter)),
		slog.Int("columns", len(header)),
	)

	return &RowReader{
		logger:    l.logger,
		path:      path,
		file:      file,
		csv:       csvReader,
		header:    header,
		encoding:  enc.Name,
		delimiter: delimiter,
	}, nil
}

// RowReader streams raw rows from one opened extract file. Rows whose field
// count does not match the header are skipped and counted, not fatal.
type RowReader struct {
	logger    *slog.Logger
	path      string
	file      *os.File
	csv       *csv.Reader
	header    []string
	encoding  string
	delimiter rune
	skipped   int
}

// Header returns the source column names, verbatim.
func (r *RowReader) Header() []string {
	return r.header
}

// Encoding returns the name of the encoding selected for this file.
func (r *RowReader) Encoding() string {
	return r.encoding
}

// Delimiter returns the detected field delimiter.
func (r *RowReader) Delimiter() rune {
	return r.delimiter
}

// Skipped returns the number of malformed records skipped so far.
func (r *RowReader) Skipped() int {
	return r.skipped
}

// Next returns the next row as a column-name → raw-value mapping. Returns
// io.EOF when the file is exhausted.
func (r *RowReader) Next() (dataset.RawRow, error) {
	for {
		record, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}

			if errors.Is(err, csv.ErrFieldCount) {
				r.skip(record, err)
				continue
			}

			// csv.Reader wraps structural errors in ParseError; anything it
			// can still hand us a record for is skippable, the rest is fatal.
			if record != nil {
				r.skip(record, err)
				continue
			}

			return nil, fmt.Errorf("%w: reading %s: %w", ErrLoadFailed, r.path, err)
		}

		row := make(dataset.RawRow, len(r.header))
		for i, col := range r.header {
			if i < len(record) {
				row[col] = record[i]
			}
		}

		return row, nil
	}
}

// ReadBatch reads up to n rows, returning io.EOF alongside the final
// (possibly non-empty) batch.
func (r *RowReader) ReadBatch(n int) ([]dataset.RawRow, error) {
	rows := make([]dataset.RawRow, 0, n)

	for len(rows) < n {
		row, err := r.Next()
		if err != nil {
			return rows, err
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// Close releases the underlying file. Safe to call once the stream is done.
func (r *RowReader) Close() error {
	return r.file.Close()
}

func (r *RowReader) skip(record []string, err error) {
	r.skipped++

	r.logger.Warn("Skipping malformed record",
		slog.String("path", r.path),
		slog.Int("fields", len(record)),
		slog.String("error", err.Error()),
	)
}
