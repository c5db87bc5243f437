package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const httpProbeText = "Jane Doe lives in Chicago."

type recognizeRequest struct {
	Text string `json:"text"`
}

type recognizeResponse struct {
	Entities []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
		Start *int   `json:"start"`
		End   *int   `json:"end"`
	} `json:"entities"`
}

// HTTPRecognizer calls an external entity service, e.g. a spaCy model
// behind a small JSON API. Offsets in responses are character offsets.
type HTTPRecognizer struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPRecognizer builds the client and probes the service once
func NewHTTPRecognizer(ctx context.Context, cfg HTTPConfig, logger *zap.Logger) (*HTTPRecognizer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := &HTTPRecognizer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}

	if _, err := r.Recognize(ctx, httpProbeText); err != nil {
		return nil, fmt.Errorf("recognizer service at %s is not usable: %w", cfg.Endpoint, err)
	}

	logger.Info("HTTP recognizer ready", zap.String("endpoint", cfg.Endpoint), zap.Duration("timeout", timeout))
	return r, nil
}

// Recognize posts the text and converts the reply to byte-offset entities
func (r *HTTPRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	body, err := json.Marshal(recognizeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecognizerFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRecognizerFailed, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var decoded recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrRecognizerFailed, err)
	}

	offsets := runeOffsets(text)
	entities := make([]Entity, 0, len(decoded.Entities))
	for _, e := range decoded.Entities {
		label := ParseLabel(e.Label)
		if label == LabelUnknown || e.Text == "" {
			continue
		}

		ent := Entity{Text: e.Text, Label: label, Start: -1, End: -1}
		if e.Start != nil && e.End != nil {
			start, end := *e.Start, *e.End
			if start >= 0 && end > start && end < len(offsets) {
				if bs, be := offsets[start], offsets[end]; text[bs:be] == e.Text {
					ent.Start, ent.End = bs, be
				}
			}
		}
		entities = append(entities, ent)
	}

	return locate(text, entities), nil
}

// Name identifies the backend
func (r *HTTPRecognizer) Name() string {
	return string(HTTPBackend)
}

// Close releases idle connections
func (r *HTTPRecognizer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// runeOffsets maps character index i to its byte offset; the final entry
// is len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
