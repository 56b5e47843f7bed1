package serial

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	"github.com/casiolink/cfxlink/internal/cfxlink"
)

// openTestPair creates a pty master/slave pair. The pty already gives us a
// real blocking byte-oriented file descriptor, which is what this test
// wants to exercise ReadFrame against, without the termios dance Open does
// on a genuine serial device node.
func openTestPair(t *testing.T) (master, slave *os.File) {
	t.Helper()
	var m, s, err = pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		s.Close()
	})
	return m, s
}

// fileTransport adapts a raw *os.File to cfxlink.Transport for this test.
type fileTransport struct {
	f *os.File
}

func (ft fileTransport) ReadByte(ctx context.Context) (byte, error) {
	var buf [1]byte
	var _, err = ft.f.Read(buf[:])
	return buf[0], err
}

func (ft fileTransport) Write(ctx context.Context, p []byte) error {
	var _, err = ft.f.Write(p)
	return err
}

func (ft fileTransport) Close() error { return ft.f.Close() }

// TestPTYWakeupHandshake drives ReadFrame against a real pty and checks the
// Machine's reply comes back over the same file descriptor pair.
func TestPTYWakeupHandshake(t *testing.T) {
	var master, slave = openTestPair(t)
	require.NoError(t, slave.SetReadDeadline(time.Now().Add(5*time.Second)))

	go func() {
		master.Write([]byte{0x15}) // WAKEUP, as if the calculator spoke first
	}()

	var transport = fileTransport{f: slave}
	var pkt, err = cfxlink.ReadFrame(slave)
	require.NoError(t, err)
	require.IsType(t, cfxlink.WakeupPacket{}, pkt)

	var store = cfxlink.NewStore()
	var machine = cfxlink.NewMachine(store)
	var outgoing, handleErr = machine.Handle(pkt)
	require.NoError(t, handleErr)
	require.Len(t, outgoing, 1)

	var ackByte, encErr = cfxlink.EncodeControlByte(outgoing[0])
	require.NoError(t, encErr)
	require.Equal(t, byte(0x13), ackByte)
	require.NoError(t, transport.Write(context.Background(), []byte{ackByte}))

	require.NoError(t, master.SetReadDeadline(time.Now().Add(5*time.Second)))
	var readBack [1]byte
	var _, readErr = master.Read(readBack[:])
	require.NoError(t, readErr)
	require.Equal(t, byte(0x13), readBack[0])
}
