package categorize

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned when no complete model is available.
	ErrNotTrained = errors.New("model not trained")
	// ErrTrainingInProgress is returned when a second training run is requested.
	ErrTrainingInProgress = errors.New("training already in progress")
	// ErrInsufficientData is the sentinel wrapped by InsufficientDataError.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrEmptyVocabulary means no term survived the frequency filters.
	ErrEmptyVocabulary = errors.New("empty vocabulary")
	// ErrInvalidThreshold is returned for a confidence threshold outside [0,1].
	ErrInvalidThreshold = errors.New("confidence threshold must be within [0,1]")
)

// InsufficientDataError reports how much labelled data training had.
type InsufficientDataError struct {
	Samples    int
	MinSamples int
	Classes    int
}

func (e *InsufficientDataError) Error() string {
	if e.Samples >= e.MinSamples {
		return fmt.Sprintf("insufficient training data: %d labelled rows span %d categories, need at least 2", e.Samples, e.Classes)
	}
	return fmt.Sprintf("insufficient training data: %d labelled rows, need at least %d", e.Samples, e.MinSamples)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}
