// Package fetcher reads the pipeline's source files: delimited text, XLSX
// workbooks and ZIP bundles, downloading them first when given a URL.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	Encoding   string // utf-8 (default), latin1, windows-1252
}

// LookupEncoding returns the decoder for a named character set.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, eris.Errorf("csv: unsupported encoding %q", name)
	}
}

// StreamCSV reads a CSV file and sends rows to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		enc, err := LookupEncoding(opts.Encoding)
		if err != nil {
			errCh <- err
			return
		}

		reader := csv.NewReader(enc.NewDecoder().Reader(r))
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && len(record) > 0 {
				// Strip a UTF-8 BOM, either intact or as mangled by a Latin-1 decode.
				record[0] = strings.TrimPrefix(strings.TrimPrefix(record[0], "\ufeff"), "\u00ef\u00bb\u00bf")
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// Table is a fully read delimited file with its header.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable drains StreamCSV into memory. The first row is the header.
func ReadTable(ctx context.Context, r io.Reader, opts CSVOptions) (*Table, error) {
	opts.HasHeader = true
	headerCh := make(chan []string, 1)
	opts.HeaderCh = headerCh

	rowCh, errCh := StreamCSV(ctx, r, opts)

	t := &Table{}
	for row := range rowCh {
		t.Rows = append(t.Rows, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	select {
	case t.Header = <-headerCh:
	default:
		return nil, eris.New("csv: input has no header row")
	}
	return t, nil
}

// ColumnIndex maps lowercased, trimmed header names to their positions.
func ColumnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// Get returns a trimmed cell by column name, or "" when the column or cell is missing.
func Get(record []string, idx map[string]int, name string) string {
	i, ok := idx[strings.ToLower(strings.TrimSpace(name))]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
