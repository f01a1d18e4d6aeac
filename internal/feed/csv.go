package feed

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// CSVFeed reads raw records from a header-mapped CSV export.
type CSVFeed struct {
	// Path is the CSV file location.
	Path string

	// Source is the feed label recorded on every ingested record.
	Source string

	// Delimiter defaults to ','.
	Delimiter rune
}

// Label returns the source label.
func (f *CSVFeed) Label() string {
	return f.Source
}

// Records reads the whole file. The first row is the header; columns
// are mapped by name, and unrecognized columns become attributes.
func (f *CSVFeed) Records(ctx context.Context) ([]RawRecord, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, eris.Wrap(err, "feed: open csv")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if f.Delimiter != 0 {
		reader.Comma = f.Delimiter
	}
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "feed: read csv header")
	}

	var out []RawRecord
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "feed: read csv")
		}
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "feed: read csv row")
		}

		rec := rowToRecord(headers, cells)
		rec.SourceLabel = f.Source
		out = append(out, rec)
	}
	return out, nil
}
