//go:build !onnx
// +build !onnx

package ner

import (
	"fmt"

	"go.uber.org/zap"
)

// NewONNXRecognizer is unavailable without the 'onnx' build tag
func NewONNXRecognizer(cfg ONNXConfig, logger *zap.Logger) (Recognizer, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags onnx to use %s", ErrBackendUnavailable, cfg.ModelPath)
}
