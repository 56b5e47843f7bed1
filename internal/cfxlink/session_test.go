package cfxlink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeTransport is an in-memory Transport backed by two byte queues, one
// per direction, standing in for a real serial port in Session tests.
type pipeTransport struct {
	mu     sync.Mutex
	inbox  []byte
	cond   *sync.Cond
	closed bool
	sent   chan []byte
}

func newPipeTransport() *pipeTransport {
	var p = &pipeTransport{sent: make(chan []byte, 64)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeTransport) feed(b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbox = append(p.inbox, b...)
	p.cond.Broadcast()
}

func (p *pipeTransport) ReadByte(ctx context.Context) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.inbox) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed && len(p.inbox) == 0 {
		return 0, context.Canceled
	}
	var b = p.inbox[0]
	p.inbox = p.inbox[1:]
	return b, nil
}

func (p *pipeTransport) Write(ctx context.Context, frame []byte) error {
	var cp = make([]byte, len(frame))
	copy(cp, frame)
	p.sent <- cp
	return nil
}

func (p *pipeTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func TestSession_WakeupHandshakeEndToEnd(t *testing.T) {
	var transport = newPipeTransport()
	var machine = NewMachine(NewStore())
	var session = NewSession(transport, machine, 4)

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	go session.Run(ctx)
	transport.feed(controlWakeup)

	select {
	case sent := <-transport.sent:
		require.Equal(t, []byte{controlWakeupAck}, sent)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for WAKEUP_ACK")
	}

	session.Stop()
	transport.Close()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSession_RequestMissingVariable_EmitsAckThenEnd(t *testing.T) {
	var transport = newPipeTransport()
	var machine = NewMachine(NewStore())
	var session = NewSession(transport, machine, 4)

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	go session.Run(ctx)
	transport.feed(controlWakeup)
	require.Equal(t, []byte{controlWakeupAck}, <-transport.sent)

	var req, err = EncodePacket(RequestPacket{VariableType: CategoryVariable, VariableName: "A"})
	require.NoError(t, err)
	transport.feed(req...)

	require.Equal(t, []byte{controlAck}, <-transport.sent)

	var end = <-transport.sent
	var decoded, decErr = DecodeFramedPacket(end)
	require.NoError(t, decErr)
	require.IsType(t, EndPacket{}, decoded)

	session.Stop()
	transport.Close()
	<-session.Done()
}

func TestSession_HardStopClosesTransportImmediately(t *testing.T) {
	var transport = newPipeTransport()
	var machine = NewMachine(NewStore())
	var session = NewSession(transport, machine, 4)

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	go session.Run(ctx)
	session.HardStop()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hard stop did not close session")
	}
}

// A frame that stops dead mid-tag (an inter-byte timeout, modeled here by
// closing the transport before the frame completes) must surface as a
// TruncatedFrameError on Errs() and reset Machine to wait_for_wakeup even
// though it was mid-transaction, per spec.md §4.4/§7.
func TestSession_TruncatedFrameMidTransaction_ResetsMachineToWaitForWakeup(t *testing.T) {
	var transport = newPipeTransport()
	var machine = NewMachine(NewStore())
	machine.state = StateReceiveValuePacket
	machine.txn = &Transaction{Direction: DirectionRx, Category: CategoryVariable, Name: "A"}

	var session = NewSession(transport, machine, 4)

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	go session.Run(ctx)

	transport.feed(':', 'R', 'E')
	transport.Close()

	select {
	case err := <-session.Errs():
		require.Error(t, err)
		assert.IsType(t, &TruncatedFrameError{}, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for truncated frame error")
	}

	require.Eventually(t, func() bool {
		return machine.State() == StateWaitForWakeup
	}, 2*time.Second, 10*time.Millisecond, "machine should reset to wait_for_wakeup after a truncated frame")

	session.Stop()
	<-session.Done()
}

// recordingTracer is a test-double Tracer that records the direction of
// every frame it is handed, to confirm Session actually drives the Tracer
// hook rather than leaving it dead.
type recordingTracer struct {
	mu         sync.Mutex
	directions []string
}

func (r *recordingTracer) Write(direction string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directions = append(r.directions, direction)
	return nil
}

func (r *recordingTracer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out = make([]string, len(r.directions))
	copy(out, r.directions)
	return out
}

func TestSession_TraceRecordsRxAndTxFrames(t *testing.T) {
	var transport = newPipeTransport()
	var machine = NewMachine(NewStore())
	var session = NewSession(transport, machine, 4)
	var tracer = &recordingTracer{}
	session.SetTrace(tracer)

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	go session.Run(ctx)
	transport.feed(controlWakeup)
	require.Equal(t, []byte{controlWakeupAck}, <-transport.sent)

	require.Eventually(t, func() bool {
		return len(tracer.snapshot()) >= 2
	}, 2*time.Second, 10*time.Millisecond, "tracer should see both the inbound WAKEUP and outbound WAKEUP_ACK")

	session.Stop()
	transport.Close()
	<-session.Done()

	var directions = tracer.snapshot()
	assert.Contains(t, directions, "rx")
	assert.Contains(t, directions, "tx")
}
