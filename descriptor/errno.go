// File: descriptor/errno.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Translation of raw errno values into the api error taxonomy.

package descriptor

import (
	"errors"

	"github.com/momentics/hioload-aio/api"
	"golang.org/x/sys/unix"
)

// KindForErrno maps an errno to the ErrorKind reported to callers.
func KindForErrno(errno unix.Errno) api.ErrorKind {
	switch errno {
	case unix.ENOENT, unix.ENOTDIR:
		return api.KindNotFound
	case unix.EACCES, unix.EPERM, unix.EROFS:
		return api.KindPermissionDenied
	case unix.EMFILE, unix.ENFILE:
		return api.KindTooManyOpenFiles
	case unix.ECANCELED:
		return api.KindCancelled
	default:
		return api.KindIOError
	}
}

// WrapError converts err into an *api.Error for op. Errors that already
// carry a kind are returned unchanged; anything that is not an errno is an
// IOError.
func WrapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return err
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return &api.Error{Kind: KindForErrno(errno), Op: op, Path: path, Err: errno}
	}
	return &api.Error{Kind: api.KindIOError, Op: op, Path: path, Err: err}
}
