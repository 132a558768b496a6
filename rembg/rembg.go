// Package rembg talks to the background-removal inference endpoint.
package rembg

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaos-io/bgstudio/codec"
)

// Image is a background-removed image as returned by a Remover.
type Image struct {
	MediaType string
	Data      []byte
}

type Remover interface {
	Remove(ctx context.Context, payload *codec.Payload) (*Image, error)
}

var (
	ErrContentBlocked  = errors.New("content blocked")
	ErrAbnormalFinish  = errors.New("abnormal finish")
	ErrEmptyResponse   = errors.New("empty response")
	ErrTextualRefusal  = errors.New("model replied with text instead of an image")
	ErrNoImageReturned = errors.New("no image returned")
	ErrRemovalFailed   = errors.New("background removal failed")
)

// ResponseError classifies a well-formed response that carries no usable image.
type ResponseError struct {
	Kind   error
	Detail string
}

func (e *ResponseError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ResponseError) Unwrap() error { return e.Kind }

// RemovalError is the only error type a Remover hands back to its caller.
// It matches ErrRemovalFailed and whatever it wraps.
type RemovalError struct {
	Err error
}

func (e *RemovalError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRemovalFailed, e.Err)
}

func (e *RemovalError) Unwrap() []error { return []error{ErrRemovalFailed, e.Err} }

func wrapRemoval(err error) error {
	if err == nil {
		return nil
	}
	var re *RemovalError
	if errors.As(err, &re) {
		return err
	}
	return &RemovalError{Err: err}
}

// Passthrough returns its input untouched. Used when no inference endpoint is
// configured.
type Passthrough struct{}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) Remove(ctx context.Context, payload *codec.Payload) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapRemoval(err)
	}
	data, err := payload.Decode()
	if err != nil {
		return nil, wrapRemoval(fmt.Errorf("decode payload: %w", err))
	}
	return &Image{MediaType: payload.MediaType, Data: data}, nil
}
