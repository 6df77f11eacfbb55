package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

type recognizerFunc func(ctx context.Context, image []byte, lang string) (string, error)

func (f recognizerFunc) Recognize(ctx context.Context, image []byte, lang string) (string, error) {
	return f(ctx, image, lang)
}

func TestExtractReturnsText(t *testing.T) {
	var gotLang string
	a := NewAdapter(recognizerFunc(func(_ context.Context, image []byte, lang string) (string, error) {
		gotLang = lang
		return "nasc: 15/05/2000", nil
	}), zaptest.NewLogger(t))

	text, err := a.Extract(context.Background(), model.Document{Data: []byte{1}}, "")
	require.NoError(t, err)
	assert.Equal(t, "nasc: 15/05/2000", text)
	assert.Equal(t, DefaultLanguage, gotLang)
}

func TestExtractWrapsEngineErrors(t *testing.T) {
	a := NewAdapter(recognizerFunc(func(context.Context, []byte, string) (string, error) {
		return "", errors.New("engine crashed")
	}), zaptest.NewLogger(t))

	_, err := a.Extract(context.Background(), model.Document{Data: []byte{1}}, "por")
	require.ErrorIs(t, err, model.ErrExtractionUnavailable)
	assert.True(t, model.Retriable(err))
}

func TestExtractTimeoutIsUnavailable(t *testing.T) {
	a := NewAdapter(recognizerFunc(func(ctx context.Context, _ []byte, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Extract(ctx, model.Document{Data: []byte{1}}, "por")
	require.ErrorIs(t, err, model.ErrExtractionUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
