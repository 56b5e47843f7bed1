package cfxlink

/*------------------------------------------------------------------
 *
 * Purpose:	The transaction state machine. States and the transition
 *		table are a direct translation of the wakeup -> request ->
 *		description -> value-stream -> end protocol; Machine owns
 *		the current State and the active Transaction (if any) and
 *		is meant to be driven by exactly one goroutine (the
 *		dispatcher). Reads from the Store are plain function calls;
 *		the only mutation, the final Put on transaction commit, is
 *		performed here rather than handed back to a caller, since
 *		Machine itself already is the single writer the design
 *		calls for.
 *
 *---------------------------------------------------------------*/

// State is one node of the transaction state machine.
type State int

const (
	StateInit State = iota
	StateWaitForWakeup
	StateWaitForRequestPacket
	StateStartTransactionRx
	StateReceiveValuePacket
	StateStartTransactionTx
	StateSendVariableDescriptionPacket
	StateSendValuePacket
	StateSendEndPacket
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWaitForWakeup:
		return "wait_for_wakeup"
	case StateWaitForRequestPacket:
		return "wait_for_request_packet"
	case StateStartTransactionRx:
		return "start_transaction_rx"
	case StateReceiveValuePacket:
		return "receive_value_packet"
	case StateStartTransactionTx:
		return "start_transaction_tx"
	case StateSendVariableDescriptionPacket:
		return "send_variable_description_packet"
	case StateSendValuePacket:
		return "send_value_packet"
	case StateSendEndPacket:
		return "send_end_packet"
	default:
		return "unknown"
	}
}

// TransactionDirection is which way values flow during a Transaction.
type TransactionDirection int

const (
	// DirectionRx: the calculator is sending us a value (we receive).
	DirectionRx TransactionDirection = iota
	// DirectionTx: the calculator asked us to send a value (we transmit).
	DirectionTx
)

// Transaction is the ephemeral record of one in-flight multi-packet exchange.
// Owned solely by Machine; no locking, since Machine is single-owner.
type Transaction struct {
	Direction TransactionDirection
	Category  VariableCategory
	Name      string
	Realness  Realness
	RowSize   int
	ColSize   int

	ExpectedCount int
	ReceivedCount int
	Partial       *MatrixValue

	TxQueue []ValuePacket
}

// Machine drives the transaction state machine. The zero value is not
// usable; construct with NewMachine.
type Machine struct {
	state State
	txn   *Transaction
	store *Store
}

// NewMachine creates a Machine in its initial state, already advanced to
// wait_for_wakeup (the init -> wait_for_wakeup transition is unconditional).
func NewMachine(store *Store) *Machine {
	return &Machine{state: StateWaitForWakeup, store: store}
}

// State reports the current state, mainly for logging and tests.
func (m *Machine) State() State {
	return m.state
}

// ResetToWaitForWakeup forces the machine back to wait_for_wakeup,
// discarding any in-flight Transaction. Per spec.md §4.4/§7, a framer
// timeout mid-packet (TruncatedFrameError) is a transport resync, not a
// hard failure: the caller is expected to call this rather than leave the
// machine stuck in whatever state the timeout interrupted.
func (m *Machine) ResetToWaitForWakeup() {
	m.state = StateWaitForWakeup
	m.txn = nil
}

// Handle processes one decoded incoming packet and returns the packets to
// transmit, in order. A packet that satisfies no guard in the current state
// is a GuardViolationError: the machine is left unchanged.
func (m *Machine) Handle(pkt Packet) ([]Packet, error) {
	switch m.state {

	case StateWaitForWakeup:
		if _, ok := pkt.(WakeupPacket); ok {
			m.state = StateWaitForRequestPacket
			return []Packet{WakeupAckPacket{}}, nil
		}
		return nil, m.guardViolation(pkt)

	case StateWaitForRequestPacket:
		switch p := pkt.(type) {
		case RequestPacket:
			return m.beginTxTransaction(p)
		case ValueDescriptionPacket:
			return m.beginRxTransaction(p)
		default:
			return nil, m.guardViolation(pkt)
		}

	case StateStartTransactionRx:
		if _, ok := pkt.(AckPacket); ok {
			m.state = StateReceiveValuePacket
			return nil, nil
		}
		return nil, m.guardViolation(pkt)

	case StateReceiveValuePacket:
		switch p := pkt.(type) {
		case ValuePacket:
			return m.receiveValue(p)
		case EndPacket:
			return m.commitRxTransaction()
		default:
			return nil, m.guardViolation(pkt)
		}

	case StateSendVariableDescriptionPacket:
		if _, ok := pkt.(AckPacket); ok {
			m.state = StateSendValuePacket
			return m.emitNextValue(), nil
		}
		return nil, m.guardViolation(pkt)

	case StateSendValuePacket:
		if _, ok := pkt.(AckPacket); ok {
			return m.emitNextValue(), nil
		}
		return nil, m.guardViolation(pkt)

	case StateSendEndPacket:
		if _, ok := pkt.(WakeupPacket); ok {
			m.state = StateWaitForRequestPacket
			m.txn = nil
			return []Packet{WakeupAckPacket{}}, nil
		}
		return nil, m.guardViolation(pkt)

	default:
		return nil, m.guardViolation(pkt)
	}
}

func (m *Machine) guardViolation(pkt Packet) error {
	return &GuardViolationError{State: m.state, PacketKind: pkt.packetKind()}
}

// beginRxTransaction builds the Transaction for a calculator-initiated send
// (calc -> host) and emits the ACK. Realness is accepted as announced,
// including for matrices; see open question 1.
func (m *Machine) beginRxTransaction(p ValueDescriptionPacket) ([]Packet, error) {
	var rowsize = p.RowSize
	var colsize = p.ColSize
	if p.VariableType != CategoryMatrix {
		rowsize, colsize = 1, 1
	}

	m.txn = &Transaction{
		Direction:     DirectionRx,
		Category:      p.VariableType,
		Name:          p.VariableName,
		Realness:      p.Realness,
		RowSize:       rowsize,
		ColSize:       colsize,
		ExpectedCount: rowsize * colsize,
		Partial:       NewMatrixValue(rowsize, colsize),
	}
	m.state = StateStartTransactionRx
	return []Packet{AckPacket{}}, nil
}

func (m *Machine) receiveValue(p ValuePacket) ([]Packet, error) {
	if m.txn.ReceivedCount >= m.txn.ExpectedCount {
		return nil, m.guardViolation(p)
	}
	m.txn.Partial.Set(p.Row, p.Col, p.Value)
	m.txn.ReceivedCount++
	return []Packet{AckPacket{}}, nil
}

func (m *Machine) commitRxTransaction() ([]Packet, error) {
	var key = VariableKey{Category: m.txn.Category, Name: m.txn.Name}
	m.store.Put(key, StoredValue{Value: m.txn.Partial, Realness: m.txn.Realness})
	m.txn = nil
	m.state = StateWaitForWakeup
	return nil, nil
}

// beginTxTransaction handles a REQUEST: the calculator wants us to send a
// value. Per open question 2, the host proceeds immediately after emitting
// the ACK rather than waiting on a further triggering packet.
func (m *Machine) beginTxTransaction(p RequestPacket) ([]Packet, error) {
	var key = VariableKey{Category: p.VariableType, Name: p.VariableName}
	var stored, found = m.store.Get(key)

	m.txn = &Transaction{Direction: DirectionTx, Category: p.VariableType, Name: p.VariableName}

	if !found {
		m.state = StateSendEndPacket
		return []Packet{AckPacket{}, EndPacket{}}, nil
	}

	m.txn.Realness = stored.Realness
	m.txn.RowSize = stored.Value.RowSize
	m.txn.ColSize = stored.Value.ColSize
	m.txn.TxQueue = flattenMatrixRowMajor(stored.Value)

	var desc = ValueDescriptionPacket{
		VariableType: p.VariableType,
		InUse:        true,
		RowSize:      stored.Value.RowSize,
		ColSize:      stored.Value.ColSize,
		VariableName: p.VariableName,
		Realness:     stored.Realness,
	}

	m.state = StateSendVariableDescriptionPacket
	return []Packet{AckPacket{}, desc}, nil
}

// flattenMatrixRowMajor lists (row=1,col=1), (1,2), ..., (1,colsize),
// (2,1), ... as the outgoing VALUE queue.
func flattenMatrixRowMajor(v *MatrixValue) []ValuePacket {
	var out = make([]ValuePacket, 0, v.RowSize*v.ColSize)
	for row := 1; row <= v.RowSize; row++ {
		for col := 1; col <= v.ColSize; col++ {
			out = append(out, ValuePacket{Row: row, Col: col, Value: v.Get(row, col)})
		}
	}
	return out
}

// emitNextValue pops the next queued VALUE, or emits END and advances to
// send_end_packet once the queue is empty.
func (m *Machine) emitNextValue() []Packet {
	if len(m.txn.TxQueue) == 0 {
		m.state = StateSendEndPacket
		return []Packet{EndPacket{}}
	}
	var next = m.txn.TxQueue[0]
	m.txn.TxQueue = m.txn.TxQueue[1:]
	return []Packet{next}
}
