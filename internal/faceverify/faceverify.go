// Package faceverify describes the external face-verification model the
// service delegates to, and provides an HTTP client for a DeepFace server.
package faceverify

import (
	"context"
	"errors"
	"strings"
)

// DefaultModel is the recognition model requested when none is configured.
const DefaultModel = "Facenet512"

// ErrNoFaceDetected is reported when the model cannot find a face in one of
// the inputs.
var ErrNoFaceDetected = errors.New("face could not be detected")

// Result is the raw outcome of one verification call.
type Result struct {
	Distance  float64 `json:"distance"`
	Verified  bool    `json:"verified"`
	Threshold float64 `json:"threshold"`
}

// Verifier compares the faces found in two image files.
type Verifier interface {
	Verify(ctx context.Context, img1Path, img2Path, model string) (*Result, error)
}

// FaceDetectionError is an input the model rejected for a reason other than
// a missing face.
type FaceDetectionError struct {
	Message string
}

func (e *FaceDetectionError) Error() string {
	return e.Message
}

// noFaceMarker is the phrase DeepFace uses in its detection failures.
const noFaceMarker = "Face could not be detected"

// IsNoFaceMessage reports whether a model error message means no face was found.
func IsNoFaceMessage(message string) bool {
	return strings.Contains(message, noFaceMarker)
}

// ClassifyModelError maps a model-side error message onto the error taxonomy.
func ClassifyModelError(message string) error {
	if IsNoFaceMessage(message) {
		return &noFaceError{message: message}
	}
	return &FaceDetectionError{Message: message}
}

type noFaceError struct {
	message string
}

func (e *noFaceError) Error() string {
	return e.message
}

func (e *noFaceError) Unwrap() error {
	return ErrNoFaceDetected
}
