package ner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
)

func TestLabelPlaceholders(t *testing.T) {
	for _, l := range Labels() {
		p, ok := l.Placeholder()
		assert.True(t, ok, "label %s", l)
		assert.True(t, p.Valid(), "label %s maps to %q", l, p)
	}

	_, ok := LabelUnknown.Placeholder()
	assert.False(t, ok)

	expected := map[Label]rules.Placeholder{
		Person: rules.Person,
		GPE:    rules.Location,
		Loc:    rules.Location,
		Org:    rules.Organization,
		Date:   rules.Date,
		Time:   rules.Time,
	}
	for l, want := range expected {
		got, _ := l.Placeholder()
		assert.Equal(t, want, got)
	}
}

func TestParseLabel(t *testing.T) {
	tests := map[string]Label{
		"PERSON": Person,
		"per":    Person,
		"B-PER":  Person,
		"I-LOC":  Loc,
		"GPE":    GPE,
		"ORG":    Org,
		"DATE":   Date,
		"TIME":   Time,
		"MISC":   LabelUnknown,
		"NORP":   LabelUnknown,
		"":       LabelUnknown,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, ParseLabel(name))
		})
	}
	assert.Equal(t, "PERSON", Person.String())
	assert.Equal(t, "UNKNOWN", Label(99).String())
}

func TestGazetteer(t *testing.T) {
	g, err := NewGazetteer(GazetteerConfig{
		Terms: map[string][]string{
			"GPE":    {"South Bend", "Bend", "San Francisco"},
			"PERSON": {"John Smith"},
		},
		IgnoreCase: true,
	})
	require.NoError(t, err)

	entities, err := g.Recognize(context.Background(), "John Smith left south bend for San Francisco; no bender here")
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, Entity{Text: "John Smith", Label: Person, Start: 0, End: 10}, entities[0])
	assert.Equal(t, "south bend", entities[1].Text, "longest phrase wins")
	assert.Equal(t, GPE, entities[1].Label)
	assert.Equal(t, "San Francisco", entities[2].Text)

	_, err = NewGazetteer(GazetteerConfig{Terms: map[string][]string{"WIDGET": {"x"}}})
	assert.Error(t, err)
	_, err = NewGazetteer(GazetteerConfig{})
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	text := "Ann met Bob, then Ann left"
	entities := locate(text, []Entity{
		{Text: "Ann", Start: -1, End: -1},
		{Text: "Bob", Start: -1, End: -1},
		{Text: "Ann", Start: -1, End: -1},
		{Text: "Zed", Start: -1, End: -1},
	})

	assert.Equal(t, 0, entities[0].Start)
	assert.Equal(t, 8, entities[1].Start)
	assert.Equal(t, 18, entities[2].Start, "search continues after the previous entity")
	assert.False(t, entities[3].HasOffsets())
}

func testVocab() []string {
	return []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]",
		"john", "smith", "lives", "in", "south", "bend", ".",
		"play", "##ing", "kal", "##ama", "##zoo",
	}
}

func TestWordPiece(t *testing.T) {
	wp, err := NewWordPiece(testVocab(), true)
	require.NoError(t, err)

	text := "John Smith lives in South Bend."
	tokens := wp.Tokenize(text)
	require.Len(t, tokens, 7)
	assert.Equal(t, Token{ID: 4, Piece: "john", Start: 0, End: 4}, tokens[0])
	assert.Equal(t, int64(9), tokens[5].ID)
	assert.Equal(t, "Bend", text[tokens[5].Start:tokens[5].End])
	assert.Equal(t, ".", text[tokens[6].Start:tokens[6].End])

	tokens = wp.Tokenize("playing xyz")
	require.Len(t, tokens, 3)
	assert.Equal(t, "play", tokens[0].Piece)
	assert.True(t, tokens[1].Continuation)
	assert.Equal(t, 4, tokens[1].Start)
	assert.Equal(t, 7, tokens[1].End)
	assert.Equal(t, "[UNK]", tokens[2].Piece)
	assert.Equal(t, 8, tokens[2].Start)

	ids, mask, types := wp.Encode(tokens)
	assert.Equal(t, []int64{2, 11, 12, 1, 3}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 1}, mask)
	assert.Equal(t, []int64{0, 0, 0, 0, 0}, types)

	_, err = NewWordPiece([]string{"a", "b"}, true)
	assert.Error(t, err)
}

func TestDecodeBIO(t *testing.T) {
	wp, err := NewWordPiece(testVocab(), true)
	require.NoError(t, err)

	text := "John Smith lives in South Bend."
	tokens := wp.Tokenize(text)
	entities := DecodeBIO(text, tokens, []string{"B-PER", "I-PER", "O", "O", "B-LOC", "I-LOC", "O"})
	require.Len(t, entities, 2)
	assert.Equal(t, Entity{Text: "John Smith", Label: Person, Start: 0, End: 10}, entities[0])
	assert.Equal(t, Entity{Text: "South Bend", Label: Loc, Start: 20, End: 30}, entities[1])

	t.Run("continuation pieces join the word", func(t *testing.T) {
		text := "Kalamazoo"
		tokens := wp.Tokenize(text)
		require.Len(t, tokens, 3)
		entities := DecodeBIO(text, tokens, []string{"B-LOC", "O", "B-PER"})
		require.Len(t, entities, 1)
		assert.Equal(t, "Kalamazoo", entities[0].Text)
	})

	t.Run("misc is dropped", func(t *testing.T) {
		entities := DecodeBIO(text, tokens, []string{"B-MISC", "I-MISC", "O", "O", "O", "O", "O"})
		assert.Empty(t, entities)
	})

	t.Run("stray inside tag opens an entity", func(t *testing.T) {
		entities := DecodeBIO(text, tokens, []string{"O", "I-PER", "O", "O", "O", "O", "O"})
		require.Len(t, entities, 1)
		assert.Equal(t, "Smith", entities[0].Text)
	})
}

func TestHTTPRecognizer(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req recognizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		received = append(received, req.Text)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entities": [
			{"text": "José Smith", "label": "PERSON", "start": 0, "end": 10},
			{"text": "Chicago", "label": "GPE", "start": 19, "end": 26},
			{"text": "widgets", "label": "PRODUCT", "start": 0, "end": 7}
		]}`))
	}))
	defer server.Close()

	r, err := NewHTTPRecognizer(context.Background(), HTTPConfig{Endpoint: server.URL}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	text := "José Smith visited Chicago"
	entities, err := r.Recognize(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, Entity{Text: "José Smith", Label: Person, Start: 0, End: 11}, entities[0])
	assert.Equal(t, Entity{Text: "Chicago", Label: GPE, Start: 20, End: 27}, entities[1])
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{httpProbeText, text}, received)
}

func TestHTTPRecognizerUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPRecognizer(context.Background(), HTTPConfig{Endpoint: server.URL}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecognizerFailed)
}

func TestChain(t *testing.T) {
	cities, err := NewGazetteer(GazetteerConfig{Terms: map[string][]string{"GPE": {"Buffalo"}}})
	require.NoError(t, err)
	people, err := NewGazetteer(GazetteerConfig{Terms: map[string][]string{"PERSON": {"Ann"}, "GPE": {"Buffalo"}}})
	require.NoError(t, err)

	chain := NewChain(cities, people)
	entities, err := chain.Recognize(context.Background(), "Ann moved to Buffalo")
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Buffalo", entities[0].Text)
	assert.Equal(t, "Ann", entities[1].Text)
	assert.Equal(t, "gazetteer+gazetteer", chain.Name())
	assert.NoError(t, chain.Close())
}

func TestFactory(t *testing.T) {
	factory := NewFactory(zap.NewNop())

	t.Run("gazetteer only", func(t *testing.T) {
		r, err := factory.Create(context.Background(), Config{
			Type:      GazetteerBackend,
			Gazetteer: GazetteerConfig{Terms: DefaultGazetteerTerms(), IgnoreCase: true},
		})
		require.NoError(t, err)
		entities, err := r.Recognize(context.Background(), "Life in El Paso")
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, GPE, entities[0].Label)
	})

	t.Run("temporal chained", func(t *testing.T) {
		r, err := factory.Create(context.Background(), Config{
			Type:      GazetteerBackend,
			Gazetteer: GazetteerConfig{Terms: DefaultGazetteerTerms(), IgnoreCase: true},
			Temporal:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, "gazetteer+temporal", r.Name())

		entities, err := r.Recognize(context.Background(), "Life in El Paso since Tuesday")
		require.NoError(t, err)
		require.Len(t, entities, 2)
		assert.Equal(t, GPE, entities[0].Label)
		assert.Equal(t, Entity{Text: "Tuesday", Label: Date, Start: 22, End: 29}, entities[1])
	})

	t.Run("invalid configs", func(t *testing.T) {
		for _, cfg := range []Config{
			{Type: "spacy"},
			{Type: HTTPBackend},
			{Type: ONNXBackend, ONNX: ONNXConfig{ModelPath: "model.onnx"}},
			{Type: GazetteerBackend},
			{Type: ProseBackend, Gazetteer: GazetteerConfig{Enabled: true}},
		} {
			_, err := factory.Create(context.Background(), cfg)
			assert.Error(t, err, "type %s", cfg.Type)
		}
	})
}

func TestProseRecognizer(t *testing.T) {
	r, err := NewProseRecognizer(zap.NewNop())
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	text := "Maria Lopez moved to South Bend after the shelter closed."
	entities, err := r.Recognize(ctx, text)
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	for _, e := range entities {
		require.True(t, e.HasOffsets(), "entity %q", e.Text)
		assert.Equal(t, e.Text, text[e.Start:e.End])
		_, ok := e.Label.Placeholder()
		assert.True(t, ok, "label %s", e.Label)
	}

	t.Run("empty text", func(t *testing.T) {
		got, err := r.Recognize(ctx, "   ")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := r.Recognize(cancelled, text)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("shared across goroutines", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make([][]Entity, 8)
		errs := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 5; j++ {
					results[i], errs[i] = r.Recognize(ctx, text)
					if errs[i] != nil {
						return
					}
				}
			}(i)
		}
		wg.Wait()

		for i := range results {
			require.NoError(t, errs[i])
			assert.Equal(t, entities, results[i])
		}
	})
}

func TestTemporalRecognizer(t *testing.T) {
	r := NewTemporalRecognizer()

	type found struct {
		text  string
		label Label
	}

	tests := []struct {
		name  string
		input string
		want  []found
	}{
		{"relative weekday", "see you next Monday", []found{{"next Monday", Date}}},
		{"clock time and relative day", "at 3 pm yesterday", []found{{"3 pm", Time}, {"yesterday", Date}}},
		{"month and year", "moved in January 2023", []found{{"January 2023", Date}}},
		{"month after preposition", "since March we stayed", []found{{"March", Date}}},
		{"abbreviated date", "posted Jan. 5, 2021", []found{{"Jan. 5, 2021", Date}}},
		{"day of month", "the 5th of May", []found{{"5th of May", Date}}},
		{"numeric date and 24h time", "on 12/25/2020 at 10:30", []found{{"12/25/2020", Date}, {"10:30", Time}}},
		{"dotted meridiem wins", "ends at 9:15 p.m. tonight", []found{{"9:15 p.m.", Time}, {"tonight", Time}}},
		{"iso date", "filed 2023-04-01", []found{{"2023-04-01", Date}}},
		{"modal verb is not a month", "may I help you", nil},
		{"plain numbers", "room 12 holds 40 beds", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entities, err := r.Recognize(context.Background(), tt.input)
			require.NoError(t, err)

			var got []found
			for _, e := range entities {
				assert.Equal(t, e.Text, tt.input[e.Start:e.End])
				got = append(got, found{e.Text, e.Label})
			}
			assert.Equal(t, tt.want, got)
		})
	}

	entities, err := r.Recognize(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, entities)
}
