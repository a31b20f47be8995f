// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown stops a component and releases its resources. Work
// already accepted is given until ctx ends to finish.
type GracefulShutdown interface {
	Shutdown(ctx context.Context) error
}
