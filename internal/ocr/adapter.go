// Package ocr translates documents into recognized text. It holds no business
// rules: whatever the OCR engine returns is handed back unchanged.
package ocr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// DefaultLanguage is the Tesseract code for Portuguese, the language of the
// identity documents the service receives.
const DefaultLanguage = "por"

// Recognizer is an OCR engine.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, languageHint string) (string, error)
}

// Adapter calls a Recognizer and folds every failure into
// model.ErrExtractionUnavailable. It never retries.
type Adapter struct {
	rec    Recognizer
	logger *zap.Logger
}

// NewAdapter constructs an Adapter.
func NewAdapter(rec Recognizer, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{rec: rec, logger: logger}
}

// Extract returns the text recognized in doc.
func (a *Adapter) Extract(ctx context.Context, doc model.Document, languageHint string) (string, error) {
	if languageHint == "" {
		languageHint = DefaultLanguage
	}
	start := time.Now()
	text, err := a.rec.Recognize(ctx, doc.Data, languageHint)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		a.logger.Warn("ocr failed",
			zap.String("file", doc.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("%w: %w", model.ErrExtractionUnavailable, err)
	}
	a.logger.Debug("ocr finished",
		zap.String("file", doc.Name),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}
