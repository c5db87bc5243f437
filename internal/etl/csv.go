package etl

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

type csvReader struct {
	file    *os.File
	reader  *csv.Reader
	columns []Column
}

func openCSVReader(path string) (*csvReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		file.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("CSV file %s has no header", path)
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	// strip a UTF-8 byte order mark left by spreadsheet exports
	if len(header) > 0 && len(header[0]) >= 3 && header[0][:3] == "\xef\xbb\xbf" {
		header[0] = header[0][3:]
	}

	columns := make([]Column, len(header))
	for i, name := range header {
		columns[i] = Column{Name: name}
	}
	return &csvReader{file: file, reader: reader, columns: columns}, nil
}

func (r *csvReader) Columns() []Column {
	return r.columns
}

// Read returns string cells; an empty cell is a missing value
func (r *csvReader) Read() ([]any, error) {
	record, err := r.reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read CSV record: %w", err)
	}

	row := make([]any, len(record))
	for i, cell := range record {
		if cell != "" {
			row[i] = cell
		}
	}
	return row, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}

type csvWriter struct {
	writer *csv.Writer
	width  int
	record []string
}

func newCSVWriter(w io.Writer, columns []Column) (*csvWriter, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(ColumnNames(columns)); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return &csvWriter{writer: writer, width: len(columns), record: make([]string, len(columns))}, nil
}

func (w *csvWriter) Write(row []any) error {
	if len(row) != w.width {
		return fmt.Errorf("row has %d cells, header has %d", len(row), w.width)
	}
	for i, cell := range row {
		w.record[i] = formatCell(cell)
	}
	return w.writer.Write(w.record)
}

func (w *csvWriter) Close() error {
	w.writer.Flush()
	return w.writer.Error()
}

// formatCell renders a cell for text formats
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
