package domain

import "errors"

var (
	// ErrInvalidPayload is returned when a queue message body is not a positive integer ad id
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrAdNotFound is returned when the ad referenced by a job does not exist
	ErrAdNotFound = errors.New("ad not found")

	// ErrInvalidImageRef is returned when an ad's image URL has no usable blob name
	ErrInvalidImageRef = errors.New("invalid image reference")

	// ErrUnsupportedImage is returned when the source blob cannot be decoded as an image
	ErrUnsupportedImage = errors.New("unsupported image")

	// ErrNoMessage is returned by queues when nothing is visible
	ErrNoMessage = errors.New("no messages in queue")

	// ErrBlobNotFound is returned when a blob does not exist in its container
	ErrBlobNotFound = errors.New("blob not found")
)

// PermanentError wraps failures that will never succeed on redelivery
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should be dropped instead of retried
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrAdNotFound) ||
		errors.Is(err, ErrInvalidImageRef) ||
		errors.Is(err, ErrUnsupportedImage) {
		return true
	}

	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}
