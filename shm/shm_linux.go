//go:build linux

// Package shm creates and maps named shared memory segments. Its only job in
// this module is giving condvar.Data a home that several processes can map,
// it is not a message transport.
//
// Segments live under /dev/shm like POSIX shm objects. A small header with a
// magic number and a ready flag is written by the creator last, so an opener
// racing the creator can tell an initialized segment from a half built one and
// retry with backoff.
package shm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"waitmux/errcode"
)

const (
	// ModuleID identifies this package in the errcode space.
	ModuleID errcode.ModuleID = 2

	CodeSegmentExists   errcode.Code = 1
	CodeSegmentNotReady errcode.Code = 2
	CodeSegmentTooSmall errcode.Code = 3
)

var (
	ErrSegmentExists   = errcode.New(ModuleID, CodeSegmentExists, "segment already exists")
	ErrSegmentNotReady = errcode.New(ModuleID, CodeSegmentNotReady, "segment was not initialized in time")
	ErrSegmentTooSmall = errcode.New(ModuleID, CodeSegmentTooSmall, "segment is smaller than its header")
)

func init() {
	errcode.Register(ModuleID, "shm")
}

const shmDir = "/dev/shm"

const (
	headerMagic uint32 = 0x77786d31 // "wxm1"

	offsetMagic = 0
	offsetReady = 4
	headerSize  = 64 // payload starts cache line aligned
)

// Segment is a mapped shared memory segment. The creator owns the name and is
// expected to Unlink it when the segment is no longer needed; Close only drops
// this process' mapping.
type Segment struct {
	name string
	fd   int
	mem  []byte
}

func path(name string) string {
	return filepath.Join(shmDir, name)
}

// readyWord gives an atomically addressable view of the ready flag. The
// mapping is page aligned so offset 4 keeps 32 bit alignment.
func readyWord(mem []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[offsetReady]))
}

// Create makes a new named segment with room for size payload bytes, maps it
// and marks it ready for openers. Fails with ErrSegmentExists when the name is
// taken.
func Create(name string, size int) (*Segment, error) {
	fd, err := unix.Open(path(name), unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		if err == unix.EEXIST {
			return nil, ErrSegmentExists
		}
		return nil, errors.Wrapf(err, "open segment %q", name)
	}

	total := headerSize + size
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path(name))
		return nil, errors.Wrapf(err, "ftruncate segment %q to %d bytes", name, total)
	}

	mem, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path(name))
		return nil, errors.Wrapf(err, "mmap segment %q", name)
	}

	binary.LittleEndian.PutUint32(mem[offsetMagic:], headerMagic)
	// the ready flag is published last, after the mapping is fully sized
	atomic.StoreUint32(readyWord(mem), 1)

	return &Segment{name: name, fd: fd, mem: mem}, nil
}

// CreateAnonymous creates a segment under a random name. The name is still
// reachable through Name for handing over to a peer process.
func CreateAnonymous(size int) (*Segment, error) {
	return Create("wmx-"+uuid.NewString(), size)
}

// Open maps an existing segment, retrying with backoff until the creator has
// published the ready flag or the timeout elapses.
func Open(name string, timeout time.Duration) (*Segment, error) {
	b := &backoff.Backoff{
		Min:    200 * time.Microsecond,
		Max:    10 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}
	deadline := time.Now().Add(timeout)

	for {
		s, err := tryOpen(name)
		if err == nil {
			return s, nil
		}
		if !retryable(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrSegmentNotReady
		}

		time.Sleep(b.Duration())
	}
}

// retryable reports whether an open failure can resolve itself once the
// creator finishes, which covers both "file not there yet" and "file there but
// header not published".
func retryable(err error) bool {
	if errors.Is(err, ErrSegmentNotReady) || errors.Is(err, ErrSegmentTooSmall) {
		return true
	}

	return errors.Is(err, os.ErrNotExist) || errors.Is(errors.Cause(err), unix.ENOENT)
}

func tryOpen(name string) (*Segment, error) {
	fd, err := unix.Open(path(name), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, errors.Wrapf(unix.ENOENT, "segment %q", name)
		}
		return nil, errors.Wrapf(err, "open segment %q", name)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "fstat segment %q", name)
	}
	if st.Size < int64(headerSize) {
		_ = unix.Close(fd)
		return nil, ErrSegmentTooSmall
	}

	mem, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "mmap segment %q", name)
	}

	if binary.LittleEndian.Uint32(mem[offsetMagic:]) != headerMagic ||
		atomic.LoadUint32(readyWord(mem)) != 1 {
		_ = unix.Munmap(mem)
		_ = unix.Close(fd)
		return nil, ErrSegmentNotReady
	}

	return &Segment{name: name, fd: fd, mem: mem}, nil
}

func (s *Segment) Name() string {
	return s.name
}

// Bytes returns the payload of the segment, past the header. Every process
// mapping the segment sees the same bytes.
func (s *Segment) Bytes() []byte {
	return s.mem[headerSize:]
}

// Close unmaps the segment from this process. The underlying object stays
// alive for other processes until Unlink.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}

	if err := unix.Munmap(s.mem); err != nil {
		return errors.Wrapf(err, "munmap segment %q", s.name)
	}
	s.mem = nil

	if err := unix.Close(s.fd); err != nil {
		return errors.Wrapf(err, "close segment %q", s.name)
	}
	return nil
}

// Unlink removes the segment name. Existing mappings keep working until every
// process unmaps.
func Unlink(name string) error {
	if err := unix.Unlink(path(name)); err != nil {
		return errors.Wrapf(err, "unlink segment %q", name)
	}
	return nil
}
