//go:build !linux

// File: internal/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

func pinCurrentThread(cpu int) error {
	return errors.New("cpu pinning is not supported on this platform")
}
