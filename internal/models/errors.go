package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrInvalidStationID indicates a station id that cannot appear in a source path.
	ErrInvalidStationID = errors.New("station id must be 1-20 characters without '/' or whitespace")

	// ErrSourcePasswordRequired indicates a station without a source password.
	ErrSourcePasswordRequired = errors.New("source password is required")

	// ErrInvalidRelayURL indicates a relay URL that is not http(s).
	ErrInvalidRelayURL = errors.New("relay url must be an absolute http or https URL")

	// ErrStationIDRequired indicates a required station id field is empty.
	ErrStationIDRequired = errors.New("station_id is required")

	// ErrStorageKeyRequired indicates an audio file without a storage key.
	ErrStorageKeyRequired = errors.New("storage_key is required")

	// ErrInvalidSessionKind indicates an unknown media session kind.
	ErrInvalidSessionKind = errors.New("invalid session kind: must be 'live', 'playlist' or 'external_relay'")

	// ErrTaskIDRequired indicates a media session without a lease task id.
	ErrTaskIDRequired = errors.New("task_id is required")
)
