package ner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Factory creates recognizers based on configuration
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a new recognizer factory
func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{logger: logger}
}

// Create builds the configured recognizer. Any error here means entity
// redaction cannot run, and callers must not start processing.
func (f *Factory) Create(ctx context.Context, cfg Config) (Recognizer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var primary Recognizer
	switch cfg.Type {
	case ProseBackend:
		r, err := NewProseRecognizer(f.logger)
		if err != nil {
			return nil, err
		}
		primary = r
	case HTTPBackend:
		r, err := NewHTTPRecognizer(ctx, cfg.HTTP, f.logger)
		if err != nil {
			return nil, err
		}
		primary = r
	case ONNXBackend:
		r, err := NewONNXRecognizer(cfg.ONNX, f.logger)
		if err != nil {
			return nil, err
		}
		primary = r
	case GazetteerBackend:
		g, err := NewGazetteer(cfg.Gazetteer)
		if err != nil {
			return nil, err
		}
		primary = g
	}

	members := []Recognizer{primary}
	if cfg.Gazetteer.Enabled && cfg.Type != GazetteerBackend {
		g, err := NewGazetteer(cfg.Gazetteer)
		if err != nil {
			primary.Close()
			return nil, err
		}
		members = append(members, g)
	}
	if cfg.Temporal {
		members = append(members, NewTemporalRecognizer())
	} else if cfg.Type == ProseBackend {
		f.logger.Warn("Temporal recognizer disabled; the prose model does not tag DATE or TIME")
	}

	if len(members) == 1 {
		f.logger.Info("Created recognizer", zap.String("type", primary.Name()))
		return primary, nil
	}
	chain := NewChain(members...)
	f.logger.Info("Created recognizer", zap.String("type", chain.Name()))
	return chain, nil
}

// ValidateConfig validates the recognizer configuration
func ValidateConfig(cfg Config) error {
	switch cfg.Type {
	case ProseBackend, GazetteerBackend:
	case HTTPBackend:
		if cfg.HTTP.Endpoint == "" {
			return fmt.Errorf("recognizer http endpoint is required")
		}
	case ONNXBackend:
		if cfg.ONNX.ModelPath == "" || cfg.ONNX.VocabPath == "" {
			return fmt.Errorf("recognizer onnx model_path and vocab_path are required")
		}
	default:
		return fmt.Errorf("invalid recognizer type: %s (must be one of: prose, gazetteer, http, onnx)", cfg.Type)
	}

	if (cfg.Type == GazetteerBackend || cfg.Gazetteer.Enabled) && len(cfg.Gazetteer.Terms) == 0 {
		return fmt.Errorf("gazetteer terms are required")
	}
	return nil
}

// Chain runs several recognizers over the same text and merges their
// results in order, dropping duplicate spans.
type Chain struct {
	recognizers []Recognizer
}

// NewChain composes recognizers
func NewChain(recognizers ...Recognizer) *Chain {
	return &Chain{recognizers: recognizers}
}

// Recognize returns the union of all recognizer results
func (c *Chain) Recognize(ctx context.Context, text string) ([]Entity, error) {
	type spanKey struct {
		text       string
		start, end int
	}

	var merged []Entity
	seen := make(map[spanKey]bool)
	for _, r := range c.recognizers {
		entities, err := r.Recognize(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name(), err)
		}
		for _, e := range entities {
			key := spanKey{text: e.Text, start: e.Start, end: e.End}
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, e)
		}
	}
	return merged, nil
}

// Name joins the member names
func (c *Chain) Name() string {
	names := make([]string, len(c.recognizers))
	for i, r := range c.recognizers {
		names[i] = r.Name()
	}
	return strings.Join(names, "+")
}

// Close closes every member
func (c *Chain) Close() error {
	var errs []error
	for _, r := range c.recognizers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
