package serial

/*------------------------------------------------------------------
 *
 * Purpose:	A cfxlink.Transport backed by a real serial port: 9600 8N2,
 *		DTR asserted, RTS deasserted, with a termios inter-byte
 *		timeout standing in for the ~50 ms idle gap the framer
 *		needs. Grounded on the teacher's src/serial_port.go (which
 *		wraps github.com/pkg/term) and src/ptt.go's TIOCMBIS/BIC
 *		handling of DTR/RTS via golang.org/x/sys/unix, generalized
 *		here from a PTT keying line to the link's own flow control.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"

	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

// interByteTimeoutDeciseconds is VTIME in tenths of a second: 1 (0.1s) is
// the finest step termios can express, the closest it gets to the ~50ms
// idle gap, and still far longer than one 9600bps byte (~1ms/byte).
const interByteTimeoutDeciseconds = 1

// Transport opens and owns one serial device.
type Transport struct {
	fd   *term.Term
	path string
}

// Open opens devicePath at 9600 8N2, asserts DTR, deasserts RTS.
func Open(devicePath string) (*Transport, error) {
	var fd, err = term.Open(devicePath, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("cfxlink/serial: open %s: %w", devicePath, err)
	}

	if err := fd.SetSpeed(9600); err != nil {
		fd.Close()
		return nil, fmt.Errorf("cfxlink/serial: set speed: %w", err)
	}

	var t = &Transport{fd: fd, path: devicePath}

	if err := t.setTwoStopBitsAndTimeout(); err != nil {
		fd.Close()
		return nil, err
	}

	if err := t.setDTR(true); err != nil {
		fd.Close()
		return nil, err
	}
	if err := t.setRTS(false); err != nil {
		fd.Close()
		return nil, err
	}

	return t, nil
}

// setTwoStopBitsAndTimeout sets CSTOPB (pkg/term has no 2-stop-bit knob)
// and VMIN=0/VTIME=interByteTimeoutDeciseconds so reads return as soon as
// the inter-byte gap elapses instead of blocking for a full byte forever.
func (t *Transport) setTwoStopBitsAndTimeout() error {
	var fdNum = int(t.fd.Fd())

	var attrs, err = unix.IoctlGetTermios(fdNum, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("cfxlink/serial: get termios: %w", err)
	}

	attrs.Cflag |= unix.CSTOPB
	attrs.Cc[unix.VMIN] = 0
	attrs.Cc[unix.VTIME] = interByteTimeoutDeciseconds

	if err := unix.IoctlSetTermios(fdNum, unix.TCSETS, attrs); err != nil {
		return fmt.Errorf("cfxlink/serial: set termios: %w", err)
	}
	return nil
}

func (t *Transport) tiocm(bit int, on bool) error {
	var fdNum = int(t.fd.Fd())
	if on {
		return unix.IoctlSetInt(fdNum, unix.TIOCMBIS, bit)
	}
	return unix.IoctlSetInt(fdNum, unix.TIOCMBIC, bit)
}

func (t *Transport) setDTR(on bool) error { return t.tiocm(unix.TIOCM_DTR, on) }
func (t *Transport) setRTS(on bool) error { return t.tiocm(unix.TIOCM_RTS, on) }

// ReadByte reads one byte, blocking up to the termios inter-byte timeout.
// ctx cancellation does not interrupt an in-progress blocking read; callers
// rely on Close to unblock it, matching the teacher's single-owner-closes
// pattern for serial file descriptors.
func (t *Transport) ReadByte(ctx context.Context) (byte, error) {
	var buf [1]byte
	var n, err = t.fd.Read(buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errTimeout{}
	}
	return buf[0], nil
}

// Write sends p synchronously.
func (t *Transport) Write(ctx context.Context, p []byte) error {
	var n, err = t.fd.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("cfxlink/serial: short write %d/%d bytes", n, len(p))
	}
	return nil
}

// Close releases the underlying file descriptor.
func (t *Transport) Close() error {
	return t.fd.Close()
}

type errTimeout struct{}

func (errTimeout) Error() string { return "cfxlink/serial: inter-byte timeout" }
