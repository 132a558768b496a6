// Package codec turns an uploaded image file into the base64 payload sent to
// the inference endpoint.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrRead                 = errors.New("read error")
)

// Payload is the transport form of an image: base64 content plus media type.
type Payload struct {
	Data      string `json:"data"`
	MediaType string `json:"mimeType"`
	// Size is the length of the raw (decoded) content in bytes.
	Size int64 `json:"-"`
}

// Decode returns the raw bytes carried by the payload.
func (p *Payload) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// IsImageType reports whether mediaType names an image type.
func IsImageType(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}

// Encode reads r fully and builds a payload for it. declaredType is the media
// type the caller claims for the file; it must be an image type and the
// content itself must sniff as an image.
func Encode(declaredType string, r io.Reader) (*Payload, error) {
	if !IsImageType(declaredType) {
		return nil, fmt.Errorf("%w: declared %q", ErrUnsupportedMediaType, declaredType)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	return EncodeBytes(declaredType, data)
}

// EncodeBytes is Encode for content already in memory.
func EncodeBytes(declaredType string, data []byte) (*Payload, error) {
	if !IsImageType(declaredType) {
		return nil, fmt.Errorf("%w: declared %q", ErrUnsupportedMediaType, declaredType)
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, fmt.Errorf("%w: content is %s", ErrUnsupportedMediaType, detected.String())
	}

	mt, _, _ := mime.ParseMediaType(declaredType)
	return &Payload{
		Data:      base64.StdEncoding.EncodeToString(data),
		MediaType: mt,
		Size:      int64(len(data)),
	}, nil
}

// EncodeFile encodes a file from disk, taking the declared type from its
// extension.
func EncodeFile(path string) (*Payload, error) {
	declared := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if declared == "" {
		return nil, fmt.Errorf("%w: unknown extension %q", ErrUnsupportedMediaType, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer func() {
		_ = f.Close()
	}()

	return Encode(declared, f)
}
