package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs the local Tesseract engine through gosseract. Tesseract
// itself cannot be interrupted, so a cancelled context abandons the call and
// lets the goroutine finish in the background.
type Tesseract struct {
	slots chan struct{}
}

// NewTesseract limits the number of engines running at once.
func NewTesseract(maxParallel int) *Tesseract {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Tesseract{slots: make(chan struct{}, maxParallel)}
}

type recognition struct {
	text string
	err  error
}

// Recognize implements Recognizer.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, languageHint string) (string, error) {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	done := make(chan recognition, 1)
	go func() {
		defer func() { <-t.slots }()
		text, err := recognize(image, languageHint)
		done <- recognition{text: text, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func recognize(image []byte, languageHint string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(languageHint); err != nil {
		return "", fmt.Errorf("set language %s: %w", languageHint, err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return text, nil
}
