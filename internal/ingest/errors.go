package ingest

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline stage where a failure occurred.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageEmbedding  Stage = "embedding"
	StageStorage    Stage = "storage"
)

// ErrNoTextContent flags uploads whose extraction produced no usable text.
var ErrNoTextContent = errors.New("no text content")

// StageError tags a pipeline failure with the stage that produced it.
// The underlying component error is wrapped unmodified.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
