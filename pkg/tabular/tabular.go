// Package tabular parses CSV assets into column-oriented tables.
package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// Parse reads CSV content into a table. The first record is the header;
// column names are cleaned of control characters. rowLimit bounds the number
// of data rows kept, zero keeps everything.
func Parse(path string, r io.Reader, rowLimit int) (*models.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty table", models.ErrMalformedInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", models.ErrMalformedInput, err)
	}

	table := &models.Table{
		Name:    AssetName(path),
		Path:    path,
		Columns: make([]models.Column, len(header)),
	}
	for i, name := range header {
		table.Columns[i].Name = CleanColumnName(name)
	}

	rows := 0
	for {
		if rowLimit > 0 && rows >= rowLimit {
			break
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read row %d: %v", models.ErrMalformedInput, rows+1, err)
		}
		for i := range table.Columns {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			table.Columns[i].Values = append(table.Columns[i].Values, value)
		}
		rows++
	}

	return table, nil
}

// CleanColumnName strips control characters so the name is usable as a
// property value in the graph and the index.
func CleanColumnName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
}

// AssetName derives the display name of an asset from its storage path.
func AssetName(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
