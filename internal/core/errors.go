package core

import (
	"errors"
	"fmt"
)

var (
	ErrIntegrationNotFound  = errors.New("integration not found")
	ErrIntegrationDisabled  = errors.New("integration is disabled")
	ErrMappingNotFound      = errors.New("mapping not found")
	ErrPostNotFound         = errors.New("post not found")
	ErrMissingTitleMapping  = errors.New("property mapping for title is not configured")
	ErrRemotePageNotFound   = errors.New("remote page not found")
	ErrInvalidResolution    = errors.New("resolution must be local or remote")
	ErrInvalidConfig        = errors.New("invalid integration config")
	ErrSyncInProgress       = errors.New("a sync is already running for this integration")
	ErrConnectionTestFailed = errors.New("ConnectionTestFailed")
)

// ConnectionTestError is returned when a remote rejects the supplied credentials
type ConnectionTestError struct {
	Reason string
}

func (e *ConnectionTestError) Error() string {
	return fmt.Sprintf("ConnectionTestFailed: %s", e.Reason)
}

func (e *ConnectionTestError) Is(target error) bool {
	return target == ErrConnectionTestFailed
}

// ProviderError carries a failure reported by the remote provider
type ProviderError struct {
	Message string
	// Unavailable is set when the remote could not be reached at all
	Unavailable bool
}

func (e *ProviderError) Error() string {
	if e.Unavailable {
		return "remote unavailable: " + e.Message
	}
	return e.Message
}
