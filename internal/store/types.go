package store

import "errors"

var (
	// ErrNotFound is returned for appliance ids that were never registered.
	ErrNotFound = errors.New("appliance not found")
	// ErrDuplicate is returned when an appliance id is registered twice.
	ErrDuplicate = errors.New("appliance already registered")
	// ErrMissingID is returned for coordinators without an appliance id.
	ErrMissingID = errors.New("appliance id is empty")
)
