package ner

import (
	"context"
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"
)

const proseWarmup = "Jane Doe moved from Chicago to Boston."

// ProseRecognizer runs the averaged-perceptron NER model bundled with prose.
// The model is loaded once and only read afterwards, so one recognizer
// serves every worker.
type ProseRecognizer struct {
	model  *prose.Model
	logger *zap.Logger
}

// NewProseRecognizer loads the bundled model and fails if it cannot run
func NewProseRecognizer(logger *zap.Logger) (*ProseRecognizer, error) {
	r := &ProseRecognizer{
		model:  prose.ModelFromData("default"),
		logger: logger,
	}

	if _, err := r.Recognize(context.Background(), proseWarmup); err != nil {
		return nil, fmt.Errorf("prose model failed to load: %w", err)
	}

	logger.Info("Prose recognizer ready")
	return r, nil
}

// Recognize extracts entities; offsets are recovered by in-order search
func (r *ProseRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false), prose.UsingModel(r.model))
	if err != nil {
		return nil, fmt.Errorf("%w: prose: %v", ErrRecognizerFailed, err)
	}

	found := doc.Entities()
	entities := make([]Entity, 0, len(found))
	for _, ent := range found {
		label := ParseLabel(ent.Label)
		if label == LabelUnknown {
			continue
		}
		entities = append(entities, Entity{Text: ent.Text, Label: label, Start: -1, End: -1})
	}

	return locate(text, entities), nil
}

// Name identifies the backend
func (r *ProseRecognizer) Name() string {
	return string(ProseBackend)
}

// Close is a no-op; the model lives in process memory
func (r *ProseRecognizer) Close() error {
	return nil
}

// locate fills in missing offsets, assuming entities are reported in
// document order. Entities that cannot be found keep Start == -1.
func locate(text string, entities []Entity) []Entity {
	cursor := 0
	for i := range entities {
		if entities[i].HasOffsets() || entities[i].Text == "" {
			continue
		}

		if idx := strings.Index(text[cursor:], entities[i].Text); idx >= 0 {
			entities[i].Start = cursor + idx
			entities[i].End = entities[i].Start + len(entities[i].Text)
			cursor = entities[i].End
			continue
		}

		if idx := strings.Index(text, entities[i].Text); idx >= 0 {
			entities[i].Start = idx
			entities[i].End = idx + len(entities[i].Text)
			continue
		}

		entities[i].Start, entities[i].End = -1, -1
	}
	return entities
}
