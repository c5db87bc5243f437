package etl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/segmentio/parquet-go"
)

// Column describes one column of a table
type Column struct {
	Name string
	// node is the leaf type for Parquet sources, nil otherwise
	node parquet.Node
}

// ColumnNames lists the names of cols in order
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// RowReader streams rows of a table. A nil cell is a missing value.
type RowReader interface {
	Columns() []Column
	// Read returns the next row, or io.EOF after the last one
	Read() ([]any, error)
	Close() error
}

// RowWriter writes rows with the column layout it was created with
type RowWriter interface {
	Write(row []any) error
	// Close flushes buffered output; it does not close the destination
	Close() error
}

// OpenReader opens path with the reader for its extension
func OpenReader(path string) (RowReader, FileFormat, error) {
	format, err := DetectFileFormat(path)
	if err != nil {
		return nil, "", err
	}

	var r RowReader
	switch format {
	case FormatCSV:
		r, err = openCSVReader(path)
	case FormatJSON:
		r, err = openJSONReader(path)
	case FormatParquet:
		r, err = openParquetReader(path)
	}
	if err != nil {
		return nil, "", err
	}
	return r, format, nil
}

// NewWriter returns a writer for format on w
func NewWriter(w io.Writer, format FileFormat, columns []Column) (RowWriter, error) {
	switch format {
	case FormatCSV:
		return newCSVWriter(w, columns)
	case FormatJSON:
		return newJSONWriter(w, columns), nil
	case FormatParquet:
		return newParquetWriter(w, columns)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// writeFileAtomic lets fn fill a temporary file next to path and renames it
// into place only when fn succeeds. A failure leaves nothing behind.
func writeFileAtomic(path string, fn func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// readAll drains r
func readAll(r RowReader) ([][]any, error) {
	var rows [][]any
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}
