package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
)

// KeywordsColumn is the annotation column shared by original and
// de-identified files
const KeywordsColumn = "keywords_matched"

// columnFiller returns the value of the rewritten column for row i
type columnFiller func(i int, row []any) (any, error)

// rewriteColumn rewrites path in place with target appended, or replaced
// when it already exists. check runs with the final row count before the
// file is swapped in; an error from it leaves path untouched.
func rewriteColumn(path, target string, prepare func(columns []Column) (columnFiller, error), check func(rows int) error) (int, error) {
	reader, format, err := OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	columns := reader.Columns()
	fill, err := prepare(columns)
	if err != nil {
		return 0, err
	}

	out := append([]Column(nil), columns...)
	idx := -1
	for i, c := range columns {
		if c.Name == target {
			idx = i
			out[i] = Column{Name: target}
			break
		}
	}
	if idx < 0 {
		out = append(out, Column{Name: target})
		idx = len(out) - 1
	}

	rows := 0
	err = writeFileAtomic(path, func(w io.Writer) error {
		writer, err := NewWriter(w, format, out)
		if err != nil {
			return err
		}
		for {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			full := make([]any, len(out))
			copy(full, row)
			if full[idx], err = fill(rows, row); err != nil {
				return err
			}
			if err := writer.Write(full); err != nil {
				return err
			}
			rows++
		}
		if check != nil {
			if err := check(rows); err != nil {
				return err
			}
		}
		return writer.Close()
	})
	return rows, err
}

func columnIndex(columns []Column, name string) (int, error) {
	for i, c := range columns {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("column %q not found", name)
}

// AnnotateColumn sets target on every row of path to fn applied to the
// text of source. Missing values are passed to fn as "".
func AnnotateColumn(path, source, target string, fn func(text string) string) (int, error) {
	return rewriteColumn(path, target, func(columns []Column) (columnFiller, error) {
		src, err := columnIndex(columns, source)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return func(_ int, row []any) (any, error) {
			text, _ := privacy.Normalize(row[src])
			return fn(text), nil
		}, nil
	}, nil)
}

// SyncColumn copies column from original into sibling row by row. The
// files must have the same number of rows; otherwise a
// *RowCountMismatchError is returned and sibling is left unchanged.
func SyncColumn(original, sibling, column string) (int, error) {
	reader, _, err := OpenReader(original)
	if err != nil {
		return 0, err
	}
	src, err := columnIndex(reader.Columns(), column)
	if err != nil {
		reader.Close()
		return 0, fmt.Errorf("%s: %w", original, err)
	}
	rows, err := readAll(reader)
	reader.Close()
	if err != nil {
		return 0, err
	}

	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row[src]
	}

	return rewriteColumn(sibling, column, func([]Column) (columnFiller, error) {
		return func(i int, _ []any) (any, error) {
			if i < len(values) {
				return values[i], nil
			}
			return nil, nil
		}, nil
	}, func(n int) error {
		if n != len(values) {
			return &RowCountMismatchError{Original: original, Sibling: sibling, Want: len(values), Got: n}
		}
		return nil
	})
}

// SyncReport is the outcome of annotating one original file
type SyncReport struct {
	Source   string `json:"source"`
	City     string `json:"city"`
	Original string `json:"original"`
	Sibling  string `json:"sibling"`
	Rows     int    `json:"rows"`
	Synced   bool   `json:"synced"`
	Skipped  string `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AnnotateKeywords writes keywords_matched into every original file of the
// selected sources and copies it into the de-identified sibling when one
// exists. Per-file problems are reported, not returned.
func (r *Runner) AnnotateKeywords(ctx context.Context, types []string, match func(text string) string) ([]SyncReport, error) {
	sources, err := SelectSources(r.config.Sources, types)
	if err != nil {
		return nil, err
	}
	cities, err := r.Cities()
	if err != nil {
		return nil, err
	}

	var reports []SyncReport
	for _, city := range cities {
		for _, source := range sources {
			if err := ctx.Err(); err != nil {
				return reports, err
			}

			original := source.InputPath(r.config.DataDir, city)
			rep := SyncReport{
				Source:   source.Name,
				City:     city,
				Original: original,
				Sibling:  OutputPath(original, r.config.OutputSuffix),
			}

			if _, err := os.Stat(original); err != nil {
				rep.Skipped = "original not found"
				reports = append(reports, rep)
				continue
			}

			rep.Rows, err = AnnotateColumn(original, source.TextColumn(), KeywordsColumn, match)
			if err != nil {
				rep.Error = err.Error()
				r.logger.Warn("Keyword annotation failed", zap.String("file", original), zap.Error(err))
				reports = append(reports, rep)
				continue
			}
			r.logger.Info("Keywords annotated", zap.String("file", original), zap.Int("rows", rep.Rows))

			if _, err := os.Stat(rep.Sibling); err != nil {
				rep.Skipped = "de-identified file not found"
				reports = append(reports, rep)
				continue
			}

			if _, err := SyncColumn(original, rep.Sibling, KeywordsColumn); err != nil {
				var mismatch *RowCountMismatchError
				if errors.As(err, &mismatch) {
					r.logger.Warn("Row count mismatch, de-identified file left unchanged",
						zap.String("original", original),
						zap.String("sibling", rep.Sibling),
						zap.Int("original_rows", mismatch.Want),
						zap.Int("sibling_rows", mismatch.Got))
				} else {
					r.logger.Warn("Keyword sync failed", zap.String("sibling", rep.Sibling), zap.Error(err))
				}
				rep.Error = err.Error()
				reports = append(reports, rep)
				continue
			}
			rep.Synced = true
			reports = append(reports, rep)
		}
	}
	return reports, nil
}
