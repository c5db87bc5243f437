package etl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// jsonReader reads JSON Lines. Columns are the union of object keys in
// first-seen order, found by a scan before the first row is returned.
type jsonReader struct {
	file    *os.File
	decoder *json.Decoder
	columns []Column
	index   map[string]int
	line    int
}

func openJSONReader(path string) (*jsonReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}

	r := &jsonReader{file: file, index: make(map[string]int)}
	if err := r.scanColumns(); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to rewind JSON file: %w", err)
	}
	r.decoder = newJSONDecoder(file)
	return r, nil
}

func newJSONDecoder(r io.Reader) *json.Decoder {
	d := json.NewDecoder(bufio.NewReader(r))
	d.UseNumber()
	return d
}

func (r *jsonReader) scanColumns() error {
	d := newJSONDecoder(r.file)
	for line := 1; ; line++ {
		keys, _, err := decodeObject(d)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read JSON record %d: %w", line, err)
		}
		for _, k := range keys {
			if _, ok := r.index[k]; !ok {
				r.index[k] = len(r.columns)
				r.columns = append(r.columns, Column{Name: k})
			}
		}
	}
}

func (r *jsonReader) Columns() []Column {
	return r.columns
}

// Read returns decoded values; absent keys and nulls are missing values and
// numbers stay json.Number
func (r *jsonReader) Read() ([]any, error) {
	r.line++
	_, values, err := decodeObject(r.decoder)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON record %d: %w", r.line, err)
	}

	row := make([]any, len(r.columns))
	for k, v := range values {
		if i, ok := r.index[k]; ok {
			row[i] = v
		}
	}
	return row, nil
}

func (r *jsonReader) Close() error {
	return r.file.Close()
}

// decodeObject reads one JSON object, keeping its key order
func decodeObject(d *json.Decoder) ([]string, map[string]any, error) {
	tok, err := d.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	values := make(map[string]any)
	for d.More() {
		tok, err := d.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected key, got %v", tok)
		}
		var v any
		if err := d.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = v
	}
	if _, err := d.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

type jsonWriter struct {
	out     *bufio.Writer
	names   []string
	buf     bytes.Buffer
	encoder *json.Encoder
}

func newJSONWriter(w io.Writer, columns []Column) *jsonWriter {
	jw := &jsonWriter{out: bufio.NewWriter(w), names: ColumnNames(columns)}
	jw.encoder = json.NewEncoder(&jw.buf)
	jw.encoder.SetEscapeHTML(false)
	return jw
}

// Write emits one object with keys in column order
func (w *jsonWriter) Write(row []any) error {
	if len(row) != len(w.names) {
		return fmt.Errorf("row has %d cells, expected %d", len(row), len(w.names))
	}

	w.buf.Reset()
	w.buf.WriteByte('{')
	for i, name := range w.names {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		if err := w.encoder.Encode(name); err != nil {
			return err
		}
		trimNewline(&w.buf)
		w.buf.WriteByte(':')
		if err := w.encoder.Encode(row[i]); err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		trimNewline(&w.buf)
	}
	w.buf.WriteString("}\n")

	_, err := w.out.Write(w.buf.Bytes())
	return err
}

func (w *jsonWriter) Close() error {
	return w.out.Flush()
}

func trimNewline(b *bytes.Buffer) {
	if n := b.Len(); n > 0 && b.Bytes()[n-1] == '\n' {
		b.Truncate(n - 1)
	}
}
