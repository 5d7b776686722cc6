package ocr

import (
	"errors"
	"fmt"
)

// Common OCR errors
var (
	// ErrImageTooLarge is returned when a rendered page exceeds the request limit
	// of a cloud engine.
	ErrImageTooLarge = errors.New("page image exceeds the maximum size (20MB)")

	// ErrInvalidImage is returned when the input bytes are not an image the engine accepts.
	ErrInvalidImage = errors.New("invalid or unsupported page image")

	// ErrOCRFailed is returned when an engine call fails.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrNoText is returned when an engine ran but recognized nothing.
	ErrNoText = errors.New("no text recognized")

	// ErrNoEngine is returned when OCR is requested but no engine is configured.
	ErrNoEngine = errors.New("no OCR engine configured")
)

// OCRError wraps errors with additional context about the OCR failure.
type OCRError struct {
	// Op is the operation that failed (e.g. "Recognize", "NewVisionEngine").
	Op string

	// Engine is the engine that failed, if known.
	Engine string

	Err error

	Details string
}

func (e *OCRError) Error() string {
	prefix := "ocr"
	if e.Engine != "" {
		prefix = "ocr/" + e.Engine
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s failed: %s: %v", prefix, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", prefix, e.Op, e.Err)
}

func (e *OCRError) Unwrap() error {
	return e.Err
}

func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError.
func NewOCRError(op, engine string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Engine:  engine,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op, engine string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return NewOCRError(op, engine, err, details)
}
