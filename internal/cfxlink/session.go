package cfxlink

import (
	"context"
	"errors"
	"sync"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Wire the framer and Machine to a byte transport using the
 *		two-task model: task A frames packets off the transport and
 *		enqueues them; task B dequeues and drives Machine, writing
 *		replies back to the transport. Only task B ever writes, and
 *		only task B touches Machine, so neither needs its own lock.
 *
 *---------------------------------------------------------------*/

// Transport is the byte-stream collaborator the session drives. Read blocks
// until a byte arrives, an inter-byte idle gap elapses, or ctx is done.
type Transport interface {
	ReadByte(ctx context.Context) (byte, error)
	Write(ctx context.Context, p []byte) error
	Close() error
}

// transportReader adapts Transport to io.Reader for ReadFrame, binding ctx for the
// lifetime of one frame read.
type transportReader struct {
	ctx context.Context
	t   Transport
}

func (r transportReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var b, err = r.t.ReadByte(r.ctx)
	if err != nil {
		return 0, err
	}
	p[0] = b
	return 1, nil
}

// Tracer receives the wire bytes of every packet, tagged "rx" or "tx". "tx"
// frames are the bytes written; "rx" frames are re-encoded from the decoded
// packet, and frames that fail to decode are not traced.
// cfxlog.PacketTrace satisfies this; a nil Tracer disables tracing.
type Tracer interface {
	Write(direction string, frame []byte) error
}

// frameEvent is what task A enqueues for task B: either a decoded packet
// or a read/frame error task B must react to (only task B touches Machine).
type frameEvent struct {
	pkt Packet
	err error
}

// Session runs the reader/dispatcher pair over one Transport and Machine.
type Session struct {
	transport Transport
	machine   *Machine
	queue     chan frameEvent
	errs      chan error
	trace     Tracer

	stopOnce sync.Once
	stopCh   chan struct{}
	hardCh   chan struct{}
	done     chan struct{}
}

// NewSession creates a Session. Call Run to start the two tasks.
func NewSession(transport Transport, machine *Machine, queueDepth int) *Session {
	if queueDepth <= 0 {
		queueDepth = 16
	}
	return &Session{
		transport: transport,
		machine:   machine,
		queue:     make(chan frameEvent, queueDepth),
		errs:      make(chan error, queueDepth),
		stopCh:    make(chan struct{}),
		hardCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetTrace installs a Tracer that records every decoded/emitted frame's raw
// bytes. Call before Run; nil disables tracing (the default).
func (s *Session) SetTrace(t Tracer) {
	s.trace = t
}

// Errs surfaces decode/transport errors observed by task A, the errors
// Machine.Handle returns (including GuardViolationError), and transport
// write errors. Sends never block: an error is dropped when the buffer is full.
func (s *Session) Errs() <-chan error {
	return s.errs
}

// Stop requests a graceful stop: task A exits after its current read, task
// B handles the events already queued and then exits. No further packets
// are read, so a transaction still in progress at that point is not
// completed. A second Stop call triggers a hard cancel, closing the
// transport unconditionally.
func (s *Session) Stop() {
	var first bool
	s.stopOnce.Do(func() {
		close(s.stopCh)
		first = true
	})
	if !first {
		s.HardStop()
	}
}

// HardStop aborts immediately, closing the transport regardless of any
// in-flight transaction.
func (s *Session) HardStop() {
	select {
	case <-s.hardCh:
	default:
		close(s.hardCh)
	}
}

// Done reports when both tasks have exited and the transport is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run starts task A and task B and blocks until both exit.
func (s *Session) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.runReader(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runDispatcher(ctx)
	}()

	go func() {
		<-s.hardCh
		s.transport.Close()
	}()

	wg.Wait()
	s.transport.Close()
	close(s.done)
}

// runReader is task A: blocks on the transport, frames one packet at a
// time, and enqueues it. It exits once Stop has been requested and the
// current read completes.
func (s *Session) runReader(ctx context.Context) {
	defer close(s.queue)
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.hardCh:
			return
		default:
		}

		var pkt, err = ReadFrame(transportReader{ctx: ctx, t: s.transport})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case s.queue <- frameEvent{err: err}:
			case <-s.hardCh:
				return
			}
			continue
		}

		select {
		case s.queue <- frameEvent{pkt: pkt}:
		case <-s.hardCh:
			return
		}
	}
}

// runDispatcher is task B: the sole writer and the sole owner of Machine.
// It keeps handling queued events after Stop, unless HardStop fires first,
// and returns once task A has exited and the queue is empty, whether or not
// a transaction is still in progress.
func (s *Session) runDispatcher(ctx context.Context) {
	for {
		select {
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			if ev.err != nil {
				s.handleReadError(ev.err)
				continue
			}

			if s.trace != nil {
				if frame, encErr := encodeFrame(ev.pkt); encErr == nil {
					_ = s.trace.Write("rx", frame)
				}
			}

			var outgoing, err = s.machine.Handle(ev.pkt)
			if err != nil {
				select {
				case s.errs <- err:
				default:
				}
				continue
			}
			for _, out := range outgoing {
				if writeErr := s.writePacket(ctx, out); writeErr != nil {
					select {
					case s.errs <- writeErr:
					default:
					}
				}
			}
		case <-s.hardCh:
			return
		}
	}
}

// handleReadError surfaces a reader-side error and, per spec.md §4.4/§7, a
// TruncatedFrameError (an inter-byte timeout mid-frame) resyncs the machine
// back to wait_for_wakeup rather than leaving it stuck in whatever state it
// was in when the gap fired.
func (s *Session) handleReadError(err error) {
	select {
	case s.errs <- err:
	default:
	}
	var truncated *TruncatedFrameError
	if errors.As(err, &truncated) {
		s.machine.ResetToWaitForWakeup()
	}
}

func (s *Session) writePacket(ctx context.Context, p Packet) error {
	var frame, err = encodeFrame(p)
	if err != nil {
		return err
	}
	if writeErr := s.transport.Write(ctx, frame); writeErr != nil {
		return writeErr
	}
	if s.trace != nil {
		_ = s.trace.Write("tx", frame)
	}
	return nil
}

// encodeFrame renders p to its wire bytes, trying the single control-byte
// encoding before the checksummed multi-byte form.
func encodeFrame(p Packet) ([]byte, error) {
	if b, err := EncodeControlByte(p); err == nil {
		return []byte{b}, nil
	}
	return EncodePacket(p)
}
