// Package intake turns an uploaded file into a model.Document. The declared
// media type is trusted; the bytes are not sniffed.
package intake

import (
	"fmt"
	"strings"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// File is a candidate upload as received from a client.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

var allowed = map[model.MediaType]bool{
	model.MediaTypePNG:  true,
	model.MediaTypeJPEG: true,
	model.MediaTypeJPG:  true,
}

// Validate accepts PNG and JPEG images with a non-empty payload.
func Validate(f File) (model.Document, error) {
	mt := normalize(f.ContentType)
	if !allowed[mt] {
		return model.Document{}, fmt.Errorf("%w: type %q not accepted, use PNG, JPEG or JPG", model.ErrInvalidFormat, f.ContentType)
	}
	if len(f.Data) == 0 {
		return model.Document{}, fmt.Errorf("%w: empty file", model.ErrInvalidFormat)
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return model.Document{
		Data:      data,
		MediaType: mt,
		Name:      f.Name,
		Size:      int64(len(data)),
	}, nil
}

// normalize drops parameters such as "; charset=binary" and lower-cases.
func normalize(contentType string) model.MediaType {
	ct, _, _ := strings.Cut(contentType, ";")
	return model.MediaType(strings.ToLower(strings.TrimSpace(ct)))
}
