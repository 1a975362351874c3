package api

import (
	"context"
	"errors"
)

const recognitionPath = "/api/v1/vision/foods/recognize/"

// MinImageLength is the minimum accepted length for a base64 image string.
// Shorter values cannot be a meaningful image and fail before any network
// call.
const MinImageLength = 100

// ErrInvalidImage is returned when the supplied image string fails local
// validation.
var ErrInvalidImage = errors.New("api: image must be a base64 string of at least 100 characters")

// recognitionRequest is the body for food recognition.
type recognitionRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// RecognizeFood submits a base64-encoded (or data-URI) food photo and
// returns the recognition result. The result shape is loosely specified by
// the backend; use package foodsafety to derive display values from it.
func (c *Client) RecognizeFood(ctx context.Context, imageBase64 string) (map[string]any, error) {
	if len(imageBase64) < MinImageLength {
		return nil, ErrInvalidImage
	}

	var result map[string]any
	if err := c.postJSON(ctx, recognitionPath, recognitionRequest{ImageBase64: imageBase64}, &result, ""); err != nil {
		return nil, err
	}
	return result, nil
}
