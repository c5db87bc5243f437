package etl

import (
	"fmt"
	"io"
	"os"

	"github.com/segmentio/parquet-go"
)

const parquetReadBuffer = 256

// parquetReader reads flat Parquet files. Byte array columns are returned
// as strings; other non-null values keep their parquet.Value so they are
// written back with their original type.
type parquetReader struct {
	file    *os.File
	reader  *parquet.Reader
	columns []Column
	strings []bool
	buf     []parquet.Row
	pending []parquet.Row
}

func openParquetReader(path string) (*parquetReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat Parquet file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read Parquet metadata: %w", err)
	}

	fields := pf.Schema().Fields()
	r := &parquetReader{
		file:    file,
		columns: make([]Column, len(fields)),
		strings: make([]bool, len(fields)),
		buf:     make([]parquet.Row, parquetReadBuffer),
	}
	for i, field := range fields {
		if !field.Leaf() || field.Repeated() {
			file.Close()
			return nil, fmt.Errorf("%w: column %s", ErrNestedSchema, field.Name())
		}
		r.columns[i] = Column{Name: field.Name(), node: parquet.Leaf(field.Type())}
		r.strings[i] = field.Type().Kind() == parquet.ByteArray
	}

	r.reader = parquet.NewReader(pf)
	return r, nil
}

func (r *parquetReader) Columns() []Column {
	return r.columns
}

func (r *parquetReader) Read() ([]any, error) {
	if len(r.pending) == 0 {
		n, err := r.reader.ReadRows(r.buf)
		if n == 0 {
			if err == nil || err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read Parquet rows: %w", err)
		}
		r.pending = r.buf[:n]
	}

	values := r.pending[0]
	r.pending = r.pending[1:]

	row := make([]any, len(r.columns))
	for _, v := range values {
		i := v.Column()
		if i < 0 || i >= len(row) || v.IsNull() {
			continue
		}
		if r.strings[i] {
			row[i] = string(v.ByteArray())
		} else {
			row[i] = v.Clone()
		}
	}
	return row, nil
}

func (r *parquetReader) Close() error {
	rerr := r.reader.Close()
	if err := r.file.Close(); err != nil {
		return err
	}
	return rerr
}

// parquetWriter writes every column as optional so missing values survive.
// Columns without a source type are strings.
type parquetWriter struct {
	writer  *parquet.Writer
	indexes []int
	width   int
}

func newParquetWriter(w io.Writer, columns []Column) (*parquetWriter, error) {
	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		node := c.node
		if node == nil {
			node = parquet.String()
		}
		group[c.Name] = parquet.Optional(node)
	}
	schema := parquet.NewSchema("deidentified", group)

	indexes := make([]int, len(columns))
	for i, c := range columns {
		leaf, ok := schema.Lookup(c.Name)
		if !ok {
			return nil, fmt.Errorf("column %s missing from output schema", c.Name)
		}
		indexes[i] = leaf.ColumnIndex
	}

	return &parquetWriter{
		writer:  parquet.NewWriter(w, schema),
		indexes: indexes,
		width:   len(columns),
	}, nil
}

func (w *parquetWriter) Write(row []any) error {
	if len(row) != w.width {
		return fmt.Errorf("row has %d cells, expected %d", len(row), w.width)
	}

	out := make(parquet.Row, w.width)
	for i, cell := range row {
		col := w.indexes[i]
		switch x := cell.(type) {
		case nil:
			out[col] = parquet.NullValue().Level(0, 0, col)
		case parquet.Value:
			if x.IsNull() {
				out[col] = parquet.NullValue().Level(0, 0, col)
			} else {
				out[col] = x.Level(0, 1, col)
			}
		default:
			out[col] = parquet.ValueOf(formatCell(x)).Level(0, 1, col)
		}
	}

	_, err := w.writer.WriteRows([]parquet.Row{out})
	return err
}

func (w *parquetWriter) Close() error {
	return w.writer.Close()
}
