// Package export writes scored items to spreadsheet files.
package export

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

var xlsxHeader = []string{
	"Source", "Title", "Employer", "Location", "Score", "Rationale", "Sponsor", "Status", "URL",
}

// WriteXLSX writes the items as a single-sheet workbook, one row per item,
// in the order given.
func WriteXLSX(w io.Writer, items []model.ScoredItem) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Items")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range xlsxHeader {
		header.AddCell().SetString(col)
	}

	for _, item := range items {
		appendItemRow(sheet, item)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// SaveXLSX writes the items workbook to a file path.
func SaveXLSX(path string, items []model.ScoredItem) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := WriteXLSX(f, items); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "export: close file")
	}
	return nil
}

func appendItemRow(sheet *xlsx.Sheet, item model.ScoredItem) {
	row := sheet.AddRow()
	row.AddCell().SetString(item.Source)
	row.AddCell().SetString(item.Title)
	row.AddCell().SetString(item.Employer)
	row.AddCell().SetString(item.Location)
	if item.Score != nil {
		row.AddCell().SetFloat(*item.Score)
	} else {
		row.AddCell().SetString("")
	}
	row.AddCell().SetString(item.Rationale)
	row.AddCell().SetString(item.SponsorMatch)
	row.AddCell().SetString(string(item.Status))
	row.AddCell().SetString(item.URL)
}
