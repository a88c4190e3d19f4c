package main

import (
	"github.com/gofrs/uuid/v5"
)

var _ UIDHandler = (*IDsHandler)(nil) // ensure IDsHandler implements UIDHandler.

// UIDHandler is an interface for getting a uid.
type UIDHandler interface {
	Generate(prefix string) string
}

// IDsHandler implements the UIDHandler interface with time-ordered
// version 7 uuids, so ids sort like their creation time.
type IDsHandler struct{}

// NewIDsHandler returns a ready to use IDsHandler.
func NewIDsHandler() *IDsHandler {
	return &IDsHandler{}
}

// Generate provides a unique identifier prefixed with prefix.
func (idh *IDsHandler) Generate(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.Must(uuid.NewV4())
	}
	return prefix + ":" + id.String()
}
