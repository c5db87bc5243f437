package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/ner"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
)

// nameRedactor replaces "Jane" with [PERSON] and fails on "boom"
type nameRedactor struct{}

func (nameRedactor) Redact(_ context.Context, text string) (*privacy.Result, error) {
	if strings.Contains(text, "boom") {
		return nil, errors.New("recognizer crashed")
	}
	res := &privacy.Result{Text: text, Original: text}
	if n := strings.Count(text, "Jane"); n > 0 {
		res.Text = strings.ReplaceAll(text, "Jane", string(rules.Person))
		res.Findings = []privacy.Finding{{Stage: privacy.StageEntity, Rule: "PERSON", Placeholder: rules.Person, Count: n}}
	}
	return res, nil
}

// nopRecognizer finds nothing
type nopRecognizer struct{}

func (nopRecognizer) Recognize(context.Context, string) ([]ner.Entity, error) { return nil, nil }
func (nopRecognizer) Name() string { return "none" }
func (nopRecognizer) Close() error { return nil }

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) record(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) RunStarted(*RunSummary) { o.record("run_started") }
func (o *recordingObserver) FileStarted(Job) { o.record("file_started") }
func (o *recordingObserver) BatchCompleted(Job, int64) { o.record("batch") }
func (o *recordingObserver) FileCompleted(*FileReport) { o.record("file_completed") }
func (o *recordingObserver) RunCompleted(*RunSummary) { o.record("run_completed") }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newTestPipeline(obs Observer) *Pipeline {
	return NewPipeline(nameRedactor{}, &Config{BatchSize: 2, WorkerCount: 3}, obs, zap.NewNop())
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		file string
		want FileFormat
	}{
		{"a.csv", FormatCSV},
		{"a.CSV", FormatCSV},
		{"a.parquet", FormatParquet},
		{"a.jsonl", FormatJSON},
		{"a.json", FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, err := DetectFileFormat(tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DetectFileFormat("a.xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPlanColumns(t *testing.T) {
	cols := []Column{{Name: "id"}, {Name: "Comment"}, {Name: "Deidentified_Comment"}, {Name: "Title"}}

	t.Run("include with missing", func(t *testing.T) {
		plan := planColumns(cols, []string{"Title", "Body"}, nil)
		assert.Equal(t, []int{3}, plan.selected)
		assert.Equal(t, []string{"Body"}, plan.missing)
		assert.Equal(t, []string{"id", "Comment", "Deidentified_Comment", "Title", "Deidentified_Title"}, ColumnNames(plan.output))
		assert.Equal(t, []int{4}, plan.targets)
	})

	t.Run("all columns minus exclude", func(t *testing.T) {
		plan := planColumns(cols, nil, []string{"id"})
		assert.Equal(t, []string{"Comment", "Title"}, plan.selectedNames(cols))
		// the existing copy is overwritten in place
		assert.Equal(t, []int{2, 4}, plan.targets)
		assert.Empty(t, plan.missing)
	})

	t.Run("nothing selected", func(t *testing.T) {
		plan := planColumns(cols, []string{"id"}, []string{"id"})
		assert.Empty(t, plan.selected)
	})
}

func TestProcessFileCSV(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "comments.csv")
	output := filepath.Join(dir, "comments_deidentified.csv")
	writeFile(t, input, "id,Comment,score\n1,Jane went home,5\n2,,7\n3,\"Jane, again\",9\n")

	obs := &recordingObserver{}
	p := newTestPipeline(obs)

	report, err := p.ProcessFile(context.Background(), Job{
		Source:  "reddit",
		City:    "rockford",
		Input:   input,
		Output:  output,
		Columns: []string{"Comment", "Missing"},
	})
	require.NoError(t, err)

	want := "id,Comment,score,Deidentified_Comment\n" +
		"1,Jane went home,5,[PERSON] went home\n" +
		"2,,7,\n" +
		"3,\"Jane, again\",9,\"[PERSON], again\"\n"
	assert.Equal(t, want, readFile(t, output))

	assert.Equal(t, FormatCSV, report.Format)
	assert.Equal(t, int64(3), report.Rows)
	assert.Equal(t, int64(2), report.ValuesRedacted)
	assert.Equal(t, int64(1), report.ValuesNormalized)
	assert.Equal(t, []string{"Comment"}, report.Columns)
	assert.Equal(t, []string{"Missing"}, report.MissingColumns)
	assert.Equal(t, map[string]int{"[PERSON]": 2}, report.Placeholders)
	assert.Empty(t, report.Error)

	assert.Equal(t, []string{"file_started", "batch", "batch", "file_completed"}, obs.events)
	assert.Equal(t, int64(3), p.GetStats().RecordsRead)
}

func TestProcessFileLogsNormalizedValues(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "comments.csv")
	writeFile(t, input, "id,Comment\n1,Jane\n2,\n3,ok\n")

	core, logs := observer.New(zap.DebugLevel)
	p := NewPipeline(nameRedactor{}, &Config{BatchSize: 2, WorkerCount: 2}, nil, zap.New(core))

	_, err := p.ProcessFile(context.Background(), Job{
		Input:   input,
		Output:  filepath.Join(dir, "out.csv"),
		Columns: []string{"Comment"},
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("Value normalized to empty output").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(2), fields["row"])
	assert.Equal(t, "Comment", fields["column"])
	assert.Equal(t, "<nil>", fields["type"])
	assert.Equal(t, input, fields["file"])
}

func TestProcessFileJSONL(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "posts.jsonl")
	output := filepath.Join(dir, "posts_deidentified.jsonl")
	writeFile(t, input, `{"text":"Jane here","n":1}
{"n":2,"text":null}
{"text":"ok <b>","extra":true}
`)

	report, err := newTestPipeline(nil).ProcessFile(context.Background(), Job{
		Input:   input,
		Output:  output,
		Columns: []string{"text"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Rows)

	want := `{"text":"Jane here","n":1,"extra":null,"Deidentified_text":"[PERSON] here"}
{"text":null,"n":2,"extra":null,"Deidentified_text":""}
{"text":"ok <b>","n":null,"extra":true,"Deidentified_text":"ok <b>"}
`
	assert.Equal(t, want, readFile(t, output))
}

func TestProcessFileOverwritesExistingCopy(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out.csv")
	writeFile(t, input, "Comment,Deidentified_Comment\nJane,stale\n")

	_, err := newTestPipeline(nil).ProcessFile(context.Background(), Job{Input: input, Output: output})
	require.NoError(t, err)
	assert.Equal(t, "Comment,Deidentified_Comment\nJane,[PERSON]\n", readFile(t, output))
}

func TestProcessFileFailures(t *testing.T) {
	dir := t.TempDir()

	t.Run("redactor error leaves no output", func(t *testing.T) {
		input := filepath.Join(dir, "bad.csv")
		output := filepath.Join(dir, "bad_deidentified.csv")
		writeFile(t, input, "Comment\nfine\nboom\n")

		report, err := newTestPipeline(nil).ProcessFile(context.Background(), Job{Input: input, Output: output})
		require.Error(t, err)
		assert.NotEmpty(t, report.Error)
		assert.NoFileExists(t, output)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
		}
	})

	t.Run("no columns to process", func(t *testing.T) {
		input := filepath.Join(dir, "none.csv")
		output := filepath.Join(dir, "none_deidentified.csv")
		writeFile(t, input, "id\n1\n")

		report, err := newTestPipeline(nil).ProcessFile(context.Background(), Job{Input: input, Output: output, Columns: []string{"Comment"}})
		require.NoError(t, err)
		assert.True(t, report.Skipped)
		assert.Equal(t, []string{"Comment"}, report.MissingColumns)
		assert.NoFileExists(t, output)
	})

	t.Run("format mismatch", func(t *testing.T) {
		input := filepath.Join(dir, "x.csv")
		writeFile(t, input, "text\nhi\n")

		_, err := newTestPipeline(nil).ProcessFile(context.Background(), Job{Input: input, Output: filepath.Join(dir, "x.jsonl")})
		assert.Error(t, err)
	})

	t.Run("missing input", func(t *testing.T) {
		_, err := newTestPipeline(nil).ProcessFile(context.Background(), Job{
			Input:  filepath.Join(dir, "absent.csv"),
			Output: filepath.Join(dir, "absent_deidentified.csv"),
		})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("cancelled", func(t *testing.T) {
		input := filepath.Join(dir, "c.csv")
		output := filepath.Join(dir, "c_deidentified.csv")
		writeFile(t, input, "text\nhi\n")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestPipeline(nil).ProcessFile(ctx, Job{Input: input, Output: output})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, output)
	})
}

func TestProcessFileWithEngine(t *testing.T) {
	rs, err := rules.Default()
	require.NoError(t, err)
	engine, err := privacy.New(rs, nil, nopRecognizer{}, privacy.DefaultOptions(), zap.NewNop())
	require.NoError(t, err)

	dir := t.TempDir()
	input := filepath.Join(dir, "minutes.csv")
	output := filepath.Join(dir, "minutes_deidentified.csv")
	writeFile(t, input, "paragraph\nCall 574-555-0199 about the Homeless Shelter\n")

	p := NewPipeline(engine, nil, nil, zap.NewNop())
	_, err = p.ProcessFile(context.Background(), Job{Input: input, Output: output})
	require.NoError(t, err)
	assert.Equal(t, "paragraph,Deidentified_paragraph\nCall 574-555-0199 about the Homeless Shelter,Call [PHONE] about the [INSTITUTION]\n", readFile(t, output))
}
