package session

import (
	"errors"
	"fmt"

	"github.com/chaos-io/bgstudio/codec"
	"github.com/chaos-io/bgstudio/compose"
	"github.com/chaos-io/bgstudio/rembg"
)

// userMessage turns an error from the codec, remover or compositor into the
// text shown to the user.
func userMessage(err error) string {
	var re *rembg.ResponseError
	detail := ""
	if errors.As(err, &re) {
		detail = re.Detail
	}

	switch {
	case errors.Is(err, codec.ErrUnsupportedMediaType):
		return "The selected file is not an image."
	case errors.Is(err, codec.ErrRead):
		return "The selected file could not be read."
	case errors.Is(err, rembg.ErrContentBlocked):
		return fmt.Sprintf("The request was blocked: %s. Please try a different image.", detail)
	case errors.Is(err, rembg.ErrAbnormalFinish):
		return fmt.Sprintf("Processing failed. Reason: %s. Please try a different image.", detail)
	case errors.Is(err, rembg.ErrEmptyResponse):
		return "The service returned an empty response. The image may not be supported."
	case errors.Is(err, rembg.ErrTextualRefusal):
		return fmt.Sprintf("The service replied with text instead of an image: %q", detail)
	case errors.Is(err, rembg.ErrNoImageReturned):
		return "The service could not return a valid image. Please try a different image."
	case errors.Is(err, compose.ErrDecode), errors.Is(err, compose.ErrRenderContext):
		return "Failed to apply the background color."
	case errors.Is(err, rembg.ErrRemovalFailed):
		return err.Error()
	default:
		return "An unexpected error occurred: " + err.Error()
	}
}
