//go:build linux || darwin

package gxserialdemux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// handle is one direction of a terminal file descriptor. Reads block in
// poll(2) for at most timeout and then fail with ErrTimeout.
type handle struct {
	name    string
	timeout time.Duration

	mu sync.Mutex
	fd int
}

func newHandle(name string, fd int, timeout time.Duration) *handle {
	return &handle{name: name, fd: fd, timeout: timeout}
}

func (h *handle) getFd() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fd
}

// Read implements io.Reader.
func (h *handle) Read(p []byte) (int, error) {
	fd := h.getFd()
	if fd < 0 {
		return 0, ErrNotOpen
	}
	if len(p) == 0 {
		return 0, nil
	}
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfds, h.timeoutMillis())
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, ErrTimeout
		}
		return 0, &os.PathError{Op: "poll", Path: h.name, Err: err}
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	n, err = unix.Read(fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, ErrTimeout
		}
		return 0, &os.PathError{Op: "read", Path: h.name, Err: err}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer. When the peer stops draining, Write waits
// at most timeout for room and then fails with ErrTimeout, returning the
// number of bytes already written.
func (h *handle) Write(p []byte) (int, error) {
	fd := h.getFd()
	if fd < 0 {
		return 0, ErrNotOpen
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			ready, perr := unix.Poll(pfds, h.timeoutMillis())
			if perr != nil && !errors.Is(perr, unix.EINTR) {
				return written, &os.PathError{Op: "poll", Path: h.name, Err: perr}
			}
			if ready == 0 {
				return written, ErrTimeout
			}
		default:
			return written, &os.PathError{Op: "write", Path: h.name, Err: err}
		}
	}
	return written, nil
}

func (h *handle) timeoutMillis() int {
	ms := int(h.timeout / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	return ms
}

// Close implements io.Closer.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

// split duplicates fd so reading and writing use separate descriptors.
// The original fd becomes the read handle. Both descriptors share one
// non-blocking open file, so neither direction can block past timeout.
func split(name string, fd int, timeout time.Duration) (*handle, *handle, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, nil, fmt.Errorf("set non-blocking %s: %w", name, err)
	}
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("duplicate %s: %w", name, err)
	}
	return newHandle(name, fd, timeout), newHandle(name, dup, timeout), nil
}

// makeRaw puts the terminal behind fd into raw 8-bit mode. The previous
// state is not kept since the terminal is closed together with the demux.
func makeRaw(fd int) error {
	if _, err := term.MakeRaw(fd); err != nil {
		return fmt.Errorf("set raw mode failed: %w", err)
	}
	return nil
}

// openChannels creates the virtual serial port, opens the device and
// splits both into independent read and write handles.
func openChannels(s *Settings) (*channels, error) {
	master, slave, name, err := openPseudoTerminal()
	if err != nil {
		return nil, fmt.Errorf("create virtual serial port: %w", err)
	}
	c := &channels{endpointName: name, keep: newHandle(name, slave, s.ReadTimeout)}
	r, w, err := split(name, master, s.ReadTimeout)
	if err != nil {
		_ = unix.Close(master)
		_ = c.close()
		return nil, err
	}
	c.endpoint = duplex{r: r, w: w}

	fd, err := openDevice(s)
	if err != nil {
		_ = c.close()
		return nil, err
	}
	r, w, err = split(s.Port, fd, s.ReadTimeout)
	if err != nil {
		_ = unix.Close(fd)
		_ = c.close()
		return nil, err
	}
	c.device = duplex{r: r, w: w}
	return c, nil
}
