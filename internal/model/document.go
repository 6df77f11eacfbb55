// Package model contains the value types handed from one verification stage
// to the next. Every value is created by exactly one stage and never mutated
// afterwards.
package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MediaType is the declared content type of a submitted file.
type MediaType string

const (
	MediaTypePNG  MediaType = "image/png"
	MediaTypeJPEG MediaType = "image/jpeg"
	// MediaTypeJPG is not registered with IANA but browsers still send it.
	MediaTypeJPG MediaType = "image/jpg"
)

// Extension returns the canonical file extension for the media type.
func (m MediaType) Extension() string {
	switch m {
	case MediaTypePNG:
		return "png"
	case MediaTypeJPEG, MediaTypeJPG:
		return "jpg"
	default:
		return "bin"
	}
}

// Document is an identity document image accepted at intake.
type Document struct {
	Data      []byte    `json:"-"`
	MediaType MediaType `json:"mediaType"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
}

// Extension prefers the extension of the original file name and falls back
// to the one implied by the media type.
func (d Document) Extension() string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(d.Name)), ".")
	if ext == "" {
		return d.MediaType.Extension()
	}
	return ext
}

// DateMatch locates the birth date substring inside recognized text.
type DateMatch struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Value string `json:"value"`
}

// ExtractionResult is the OCR output for one document. Match is nil when no
// date pattern was found.
type ExtractionResult struct {
	Text  string     `json:"-"`
	Match *DateMatch `json:"match,omitempty"`
}

// BirthDate is a calendar date without a time zone.
type BirthDate struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// String formats the date as DD/MM/YYYY, the layout it was read in.
func (b BirthDate) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", b.Day, b.Month, b.Year)
}

// AgeVerification is the resolved age of the document holder. IsAdult always
// equals Age >= AdultAge for the instant in EvaluatedAt.
type AgeVerification struct {
	BirthDate   BirthDate `json:"birthDate"`
	Age         int       `json:"age"`
	IsAdult     bool      `json:"isAdult"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// AdultAge is the legal age the gate requires.
const AdultAge = 18
