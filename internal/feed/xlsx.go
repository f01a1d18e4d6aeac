package feed

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXFeed reads raw records from a spreadsheet export. Catalog vendors
// commonly ship XLSX rather than CSV.
type XLSXFeed struct {
	// Path is the XLSX file location.
	Path string

	// Source is the feed label recorded on every ingested record.
	Source string

	// Sheet selects a sheet by name; the first sheet when empty.
	Sheet string
}

// Label returns the source label.
func (f *XLSXFeed) Label() string {
	return f.Source
}

// Records reads the selected sheet. The first row is the header.
func (f *XLSXFeed) Records(ctx context.Context) ([]RawRecord, error) {
	file, err := xlsx.OpenFile(f.Path)
	if err != nil {
		return nil, eris.Wrap(err, "feed: open xlsx")
	}

	sheet, err := f.sheet(file)
	if err != nil {
		return nil, err
	}

	var headers []string
	var out []RawRecord
	for i, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "feed: read xlsx")
		}

		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}

		if i == 0 {
			headers = cells
			continue
		}

		rec := rowToRecord(headers, cells)
		rec.SourceLabel = f.Source
		out = append(out, rec)
	}
	return out, nil
}

func (f *XLSXFeed) sheet(file *xlsx.File) (*xlsx.Sheet, error) {
	if f.Sheet != "" {
		sheet, ok := file.Sheet[f.Sheet]
		if !ok {
			return nil, eris.Errorf("feed: sheet %q not found", f.Sheet)
		}
		return sheet, nil
	}
	if len(file.Sheets) == 0 {
		return nil, eris.New("feed: workbook has no sheets")
	}
	return file.Sheets[0], nil
}
