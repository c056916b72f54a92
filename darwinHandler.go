//go:build darwin

package gxserialdemux

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

// toUnitBaudrate maps a baud rate to the corresponding constant in the mac package.
var toUnitBaudrate = map[int]uint32{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// getPortNames returns a list of available serial port device paths on macOS.
func getPortNames() ([]string, error) {
	patterns := []string{
		"/dev/tty.*",
		"/dev/cu.*",
	}

	var devices []string
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, device := range matches {
			if _, ok := seen[device]; !ok {
				seen[device] = struct{}{}
				devices = append(devices, device)
			}
		}
	}
	return devices, nil
}

func ioctl(fd int, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlSetIntPointer(fd int, req uint, value int) error {
	v := value
	return ioctl(fd, req, uintptr(unsafe.Pointer(&v)))
}

// openPseudoTerminal allocates a PTY pair the way posix_openpt, grantpt,
// unlockpt and ptsname do. The slave is kept open in raw mode.
func openPseudoTerminal() (master, slave int, name string, err error) {
	master, err = unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, -1, "", fmt.Errorf("open /dev/ptmx: %w", err)
	}
	if err := ioctl(master, unix.TIOCPTYGRANT, 0); err != nil {
		_ = unix.Close(master)
		return -1, -1, "", fmt.Errorf("grant PTY (TIOCPTYGRANT): %w", err)
	}
	if err := ioctl(master, unix.TIOCPTYUNLK, 0); err != nil {
		_ = unix.Close(master)
		return -1, -1, "", fmt.Errorf("unlock PTY (TIOCPTYUNLK): %w", err)
	}
	var buf [128]byte
	if err := ioctl(master, unix.TIOCPTYGNAME, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		_ = unix.Close(master)
		return -1, -1, "", fmt.Errorf("get PTY name (TIOCPTYGNAME): %w", err)
	}
	name = unix.ByteSliceToString(buf[:])
	slave, err = unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = unix.Close(master)
		return -1, -1, "", fmt.Errorf("open %s: %w", name, err)
	}
	if err := makeRaw(slave); err != nil {
		_ = unix.Close(slave)
		_ = unix.Close(master)
		return -1, -1, "", err
	}
	return master, slave, name, nil
}

// openDevice opens the serial device in raw mode with the given line
// settings. The returned descriptor is in blocking mode.
func openDevice(s *Settings) (int, error) {
	speed, ok := toUnitBaudrate[int(s.BaudRate)]
	if !ok {
		return -1, fmt.Errorf("%w: unsupported baud rate %d", gxcommon.ErrInvalidArgument, s.BaudRate)
	}
	fd, err := unix.Open(s.Port, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0666)
	if err != nil {
		return -1, &os.PathError{Op: "open", Path: s.Port, Err: err}
	}
	fail := func(err error) (int, error) {
		_ = unix.Close(fd)
		return -1, err
	}

	// (iflag, oflag, cflag, lflag, ispeed, ospeed, cc) = tcgetattr
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return fail(fmt.Errorf("tcgetattr failed: %w", err))
	}
	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST | unix.ONLCR | unix.OCRNL
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IGNBRK | unix.BRKINT | unix.PARMRK
	// Baud rate:
	t.Ispeed = uint64(speed)
	t.Ospeed = uint64(speed)
	// Databits:
	t.Cflag &^= unix.CSIZE
	switch s.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	default:
		return fail(fmt.Errorf("%w: invalid databits %d (must be 5..8)", gxcommon.ErrInvalidArgument, s.DataBits))
	}

	// Stop bits
	switch s.StopBits {
	case gxcommon.StopBitsOne:
		t.Cflag &^= unix.CSTOPB
	case gxcommon.StopBitsTwo:
		t.Cflag |= unix.CSTOPB
	default:
		return fail(fmt.Errorf("%w: invalid stopbits %d", gxcommon.ErrInvalidArgument, s.StopBits))
	}

	// setup parity, macOS has no CMSPAR.
	t.Iflag &^= unix.INPCK | unix.ISTRIP
	t.Cflag &^= unix.PARENB | unix.PARODD
	switch s.Parity {
	case gxcommon.ParityNone:
		// No parity: parity bit off, no parity checking
	case gxcommon.ParityEven:
		t.Cflag |= unix.PARENB
	case gxcommon.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case gxcommon.ParityMark, gxcommon.ParitySpace:
		return fail(fmt.Errorf("%w: mark/space parity not supported on this system", gxcommon.ErrInvalidArgument))
	default:
		return fail(fmt.Errorf("%w: invalid parity", gxcommon.ErrInvalidArgument))
	}

	t.Iflag &^= unix.IXON | unix.IXOFF
	t.Cflag &^= unix.CRTSCTS
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return fail(fmt.Errorf("tcsetattr failed: %w", err))
	}
	if err := ioctlSetIntPointer(fd, unix.TIOCFLUSH, unix.TCIFLUSH); err != nil {
		return fail(fmt.Errorf("flush %s: %w", s.Port, err))
	}
	return fd, nil
}
