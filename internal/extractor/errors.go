package extractor

import "errors"

var (
	// ErrUnsupportedFormat is returned for format tags outside the supported set.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyInput is returned when the uploaded file has zero bytes.
	ErrEmptyInput = errors.New("empty input")

	// ErrExtractionFailed is returned on format-specific parse errors,
	// e.g. a corrupt or encrypted PDF.
	ErrExtractionFailed = errors.New("extraction failed")
)
