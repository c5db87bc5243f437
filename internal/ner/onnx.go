//go:build onnx
// +build onnx

package ner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXRecognizer runs a BERT token-classification model through ONNX Runtime
type ONNXRecognizer struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *WordPiece
	labels     []string
	inputNames []string
	outputName string
	window     int
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewONNXRecognizer initializes the runtime and opens the model
func NewONNXRecognizer(cfg ONNXConfig, logger *zap.Logger) (Recognizer, error) {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	tokenizer, err := LoadWordPiece(cfg.VocabPath, cfg.Lowercase)
	if err != nil {
		return nil, err
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultONNXLabels()
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx runtime init failed: %w", err)
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to inspect model %s: %w", cfg.ModelPath, err)
	}
	if len(outputsInfo) == 0 {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("model %s reports no outputs", cfg.ModelPath)
	}

	inputNames := make([]string, 0, len(inputsInfo))
	for _, info := range inputsInfo {
		inputNames = append(inputNames, info.Name)
	}
	outputName := outputsInfo[0].Name

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("onnx session creation failed: %w", err)
	}

	window := cfg.MaxLength - 2
	if window <= 0 {
		window = 510
	}

	logger.Info("ONNX recognizer ready",
		zap.String("model", cfg.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
		zap.Int("labels", len(labels)))

	return &ONNXRecognizer{
		session:    session,
		tokenizer:  tokenizer,
		labels:     labels,
		inputNames: inputNames,
		outputName: outputName,
		window:     window,
		logger:     logger,
	}, nil
}

// Recognize tags the text window by window so long paragraphs are never
// truncated.
func (r *ONNXRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return nil, fmt.Errorf("%w: onnx session closed", ErrRecognizerFailed)
	}

	tokens := r.tokenizer.Tokenize(text)
	tags := make([]string, 0, len(tokens))
	for start := 0; start < len(tokens); start += r.window {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + r.window
		if end > len(tokens) {
			end = len(tokens)
		}
		windowTags, err := r.tagWindow(tokens[start:end])
		if err != nil {
			return nil, err
		}
		tags = append(tags, windowTags...)
	}

	return DecodeBIO(text, tokens, tags), nil
}

// tagWindow runs one forward pass and returns the argmax tag per token
func (r *ONNXRecognizer) tagWindow(window []Token) ([]string, error) {
	ids, mask, types := r.tokenizer.Encode(window)
	shape := ort.NewShape(1, int64(len(ids)))

	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, 0, len(r.inputNames))
	for _, name := range r.inputNames {
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "mask"):
			inputs = append(inputs, maskTensor)
		case strings.Contains(lower, "type") || strings.Contains(lower, "segment"):
			inputs = append(inputs, typeTensor)
		default:
			inputs = append(inputs, idsTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := r.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("%w: onnx run: %v", ErrRecognizerFailed, err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type (want float32 tensor)", ErrRecognizerFailed)
	}
	outShape := logits.GetShape()
	if len(outShape) != 3 || int(outShape[1]) != len(ids) || int(outShape[2]) != len(r.labels) {
		return nil, fmt.Errorf("%w: unexpected output shape %v", ErrRecognizerFailed, outShape)
	}

	data := logits.GetData()
	numLabels := len(r.labels)
	tags := make([]string, len(window))
	for i := range window {
		// +1 skips [CLS]
		row := data[(i+1)*numLabels : (i+2)*numLabels]
		best := 0
		for j := 1; j < numLabels; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		tags[i] = r.labels[best]
	}
	return tags, nil
}

// Name identifies the backend
func (r *ONNXRecognizer) Name() string {
	return string(ONNXBackend)
}

// Close releases the session and the runtime environment
func (r *ONNXRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
		ort.DestroyEnvironment()
	}
	return nil
}
