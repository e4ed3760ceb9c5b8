package types

import (
	"github.com/google/uuid"
)

// ServiceAuth identifies the caller behind a bearer token: the storefront
// service itself when talking to the transaction backend, or the backend
// when it pushes status notifications to us.
type ServiceAuth struct {
	ID      uuid.UUID `json:"id" validate:"required"`
	Subject string    `json:"subject" validate:"required"`
	Scope   string    `json:"scope" validate:"omitempty"`
}
