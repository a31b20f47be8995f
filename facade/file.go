// File: facade/file.go
// Package facade is the user-facing file handle over an engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A File binds one descriptor to one engine. Read, Write and Seek return
// futures; ReadAll and Dump drive whole-file transfers on top of them.

package facade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/descriptor"
	"github.com/momentics/hioload-aio/engine"
	"github.com/momentics/hioload-aio/pool"
)

// Ensure compile-time interface compliance.
var (
	_ api.Cancelable = (*Future[int])(nil)
	_ io.Closer      = (*File)(nil)
)

// File is an open file bound to an Engine.
type File struct {
	eng    *engine.Engine
	desc   *descriptor.Descriptor
	bufs   api.BytePool
	logger *slog.Logger
}

// Option customises a File.
type Option func(*File)

// WithBytePool sets the pool used for Dump's scratch buffers.
func WithBytePool(p api.BytePool) Option {
	return func(f *File) { f.bufs = p }
}

// Open opens path read-write, falling back to read-only when write access
// is denied. Errors carry the path and an api.ErrorKind.
func Open(eng *engine.Engine, path string, opts ...Option) (*File, error) {
	d, err := eng.Open(path)
	if err != nil {
		return nil, err
	}
	return newFile(eng, d, opts), nil
}

// OpenFile opens path with explicit unix flags and permissions.
func OpenFile(eng *engine.Engine, path string, flags int, perm uint32, opts ...Option) (*File, error) {
	d, err := eng.OpenFile(path, flags, perm)
	if err != nil {
		return nil, err
	}
	return newFile(eng, d, opts), nil
}

func newFile(eng *engine.Engine, d *descriptor.Descriptor, opts []Option) *File {
	f := &File{
		eng:    eng,
		desc:   d,
		bufs:   pool.Default(),
		logger: eng.Logger().With("component", "facade"),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger.Debug("file opened", "path", d.Path(), "read_only", d.ReadOnly())
	return f
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.desc.Path() }

// Descriptor exposes the underlying descriptor.
func (f *File) Descriptor() *descriptor.Descriptor { return f.desc }

func readData(c api.Completion) []byte { return c.Data }
func written(c api.Completion) int     { return c.N }
func position(c api.Completion) int64  { return c.Offset }

func submit[T any](ctx context.Context, f *File, req *api.Request, convert func(api.Completion) T) *Future[T] {
	req.Desc = f.desc
	id, err := f.eng.Submit(ctx, req)
	if err != nil {
		return failedFuture[T](err)
	}
	return newFuture(f.eng, id, convert)
}

// Read reads up to length bytes at the current offset and advances it by
// the number of bytes read. length <= 0 uses the engine's read chunk size.
// An empty result means end of file.
func (f *File) Read(ctx context.Context, length int) *Future[[]byte] {
	if length <= 0 {
		length = f.eng.ReadChunkSize()
	}
	return submit(ctx, f, &api.Request{Kind: api.OpRead, Buf: make([]byte, length), Offset: api.OffsetCursor}, readData)
}

// ReadAt reads up to length bytes at off without moving the offset.
func (f *File) ReadAt(ctx context.Context, length int, off int64) *Future[[]byte] {
	if length <= 0 {
		length = f.eng.ReadChunkSize()
	}
	return submit(ctx, f, &api.Request{Kind: api.OpRead, Buf: make([]byte, length), Offset: off}, readData)
}

// Write writes p at the current offset and advances it. The future
// resolves to the number of bytes written; short writes are not errors.
// p must not be modified until the future resolves.
func (f *File) Write(ctx context.Context, p []byte) *Future[int] {
	return submit(ctx, f, &api.Request{Kind: api.OpWrite, Buf: p, Offset: api.OffsetCursor}, written)
}

// WriteAt writes p at off without moving the offset.
func (f *File) WriteAt(ctx context.Context, p []byte, off int64) *Future[int] {
	return submit(ctx, f, &api.Request{Kind: api.OpWrite, Buf: p, Offset: off}, written)
}

// Print is an alias for Write.
func (f *File) Print(ctx context.Context, p []byte) *Future[int] {
	return f.Write(ctx, p)
}

// PrintString is Print for a string.
func (f *File) PrintString(ctx context.Context, s string) *Future[int] {
	return f.Write(ctx, []byte(s))
}

// Seek sets the offset for subsequent Read and Write calls, ordered after
// every request already submitted on this file. The future resolves to the
// new offset.
func (f *File) Seek(ctx context.Context, offset int64, whence int) *Future[int64] {
	return submit(ctx, f, &api.Request{Kind: api.OpSeek, Offset: offset, Whence: whence}, position)
}

// ReadAll reads the whole file from offset 0, independent of the current
// offset, until a read returns no data.
func (f *File) ReadAll(ctx context.Context) ([]byte, error) {
	size, err := f.desc.Size()
	if err != nil {
		return nil, err
	}
	chunk := f.eng.ReadChunkSize()
	out := make([]byte, 0, size)
	var off int64
	for {
		data, err := f.ReadAt(ctx, chunk, off).Wait(ctx)
		if err != nil {
			return out, err
		}
		if len(data) == 0 {
			return out, nil
		}
		out = append(out, data...)
		off += int64(len(data))
	}
}

// dumpDrainTimeout bounds how long Dump waits for its cancelled reads.
const dumpDrainTimeout = time.Second

// Dump copies the whole file from offset 0 to w and returns the number of
// bytes written. Two reads stay in flight so the next chunk is fetched
// while the current one is written out.
func (f *File) Dump(ctx context.Context, w io.Writer) (int64, error) {
	chunk := f.eng.ReadChunkSize()
	type pending struct {
		buf []byte
		fut *Future[[]byte]
	}
	next := func(off int64) pending {
		buf := f.bufs.Acquire(chunk)
		req := &api.Request{Kind: api.OpRead, Buf: buf, Offset: off}
		return pending{buf: buf, fut: submit(ctx, f, req, readData)}
	}

	var total int64
	cur := next(0)
	ahead := next(int64(chunk))
	defer func() {
		// a buffer goes back to the pool only once its read has finished
		drain, cancel := context.WithTimeout(context.Background(), dumpDrainTimeout)
		defer cancel()
		for _, p := range []pending{cur, ahead} {
			if p.buf == nil {
				continue
			}
			_ = p.fut.Cancel()
			if _, err := p.fut.Wait(drain); !abandoned(err) {
				f.bufs.Release(p.buf)
			}
		}
	}()

	for {
		data, err := cur.fut.Wait(ctx)
		if err != nil {
			return total, err
		}
		if len(data) > 0 {
			n, err := w.Write(data)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
		f.bufs.Release(cur.buf)
		cur.buf = nil
		if len(data) < chunk {
			// short read: end of file as of this pass
			return total, nil
		}
		cur = ahead
		ahead = next(total + int64(chunk))
	}
}

// abandoned reports whether err came from giving up on a wait, in which
// case the request may still be running.
func abandoned(err error) bool {
	var e *api.Error
	if !errors.As(err, &e) || (e.Op != "await" && e.Op != "wait") {
		return false
	}
	return e.Kind == api.KindTimedOut || e.Kind == api.KindCancelled
}

// Close closes the file once its outstanding requests have completed.
// A second Close fails with ErrAlreadyClosed.
func (f *File) Close() error {
	return f.CloseContext(context.Background())
}

// CloseContext is Close bounded by ctx. When ctx ends first the file stays
// in the closing state and CloseContext may be called again.
func (f *File) CloseContext(ctx context.Context) error {
	err := f.eng.Release(ctx, f.desc)
	if err != nil && !errors.Is(err, api.ErrAlreadyClosed) {
		f.logger.Warn("close failed", "path", f.desc.Path(), "error", err)
	}
	return err
}
