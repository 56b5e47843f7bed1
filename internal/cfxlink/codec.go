package cfxlink

import "bytes"

/*------------------------------------------------------------------
 *
 * Purpose:	Wire codec for the seven packet kinds exchanged over the
 *		link: the three single-byte control codes, the three
 *		':'-tagged, 50-byte, checksummed packets (REQ, VAL, END),
 *		and the checksummed 16- or 26-byte VALUE packet. Every kind
 *		is its own Go type; there is no generic field bag.
 *
 *---------------------------------------------------------------*/

const (
	controlWakeup    byte = 0x15
	controlAck       byte = 0x06
	controlWakeupAck byte = 0x13
)

// Packet is implemented by every decoded packet kind.
type Packet interface {
	packetKind() string
}

type WakeupPacket struct{}
type AckPacket struct{}
type WakeupAckPacket struct{}

func (WakeupPacket) packetKind() string    { return "WAKEUP" }
func (AckPacket) packetKind() string       { return "ACK" }
func (WakeupAckPacket) packetKind() string { return "WAKEUP_ACK" }

// RequestPacket is a :REQ packet: the calculator asking the host to send one
// named variable.
type RequestPacket struct {
	VariableType VariableCategory
	VariableName string
}

func (RequestPacket) packetKind() string { return "REQUEST" }

// ValueDescriptionPacket is a :VAL packet describing the shape of the value
// about to be streamed. RowSize/ColSize are only meaningful for matrices.
type ValueDescriptionPacket struct {
	VariableType VariableCategory
	InUse        bool
	RowSize      int
	ColSize      int
	VariableName string
	Realness     Realness
}

func (ValueDescriptionPacket) packetKind() string { return "VALUE_DESCRIPTION" }

// ValuePacket is one real or complex value streamed at the 1-based (Row, Col),
// (1, 1) for scalars.
type ValuePacket struct {
	Row, Col int
	Value    DecimalNumber
}

func (ValuePacket) packetKind() string { return "VALUE" }

// EndPacket is a :END packet, closing a value stream.
type EndPacket struct{}

func (EndPacket) packetKind() string { return "END" }

// checksumBody computes (1 + ^S) & 0xFF where S is the sum of the bytes
// between the leading ':' and the checksum byte.
func checksumBody(body []byte) byte {
	var s int
	for _, b := range body {
		s += int(b)
	}
	return byte((1 + ^s) & 0xFF)
}

// appendChecksum appends the checksum byte for a frame whose first byte is
// ':' and whose remaining bytes are the frame body.
func appendChecksum(frame []byte) []byte {
	return append(frame, checksumBody(frame[1:]))
}

// verifyChecksum reports whether frame's trailing byte is the correct
// checksum for the preceding bytes (colon included in the sum exclusion).
func verifyChecksum(frame []byte) error {
	if len(frame) < 2 {
		return &TruncatedFrameError{GotBytes: len(frame)}
	}
	var want = checksumBody(frame[1 : len(frame)-1])
	var got = frame[len(frame)-1]
	if want != got {
		return &ChecksumMismatchError{Got: got, Want: want}
	}
	return nil
}

func encodeName8(name string) [8]byte {
	var out [8]byte
	for i := range out {
		out[i] = 0xff
	}
	copy(out[:], name)
	return out
}

func decodeName8(b [8]byte) string {
	var trimmed = bytes.TrimRight(b[:], "\xff")
	return string(trimmed)
}

// EncodeControlByte encodes one of the three single-byte control packets.
func EncodeControlByte(p Packet) (byte, error) {
	switch p.(type) {
	case WakeupPacket:
		return controlWakeup, nil
	case AckPacket:
		return controlAck, nil
	case WakeupAckPacket:
		return controlWakeupAck, nil
	default:
		return 0, &UnsupportedPacketError{Tag: p.packetKind()}
	}
}

// DecodeControlByte decodes one of the three single-byte control codes.
func DecodeControlByte(b byte) (Packet, bool) {
	switch b {
	case controlWakeup:
		return WakeupPacket{}, true
	case controlAck:
		return AckPacket{}, true
	case controlWakeupAck:
		return WakeupAckPacket{}, true
	default:
		return nil, false
	}
}

// EncodePacket encodes a ':'-tagged packet and appends its checksum byte.
func EncodePacket(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case RequestPacket:
		return encodeRequestPacket(v), nil
	case ValueDescriptionPacket:
		return encodeValueDescriptionPacket(v), nil
	case ValuePacket:
		return encodeValuePacket(v)
	case EndPacket:
		return encodeEndPacket(), nil
	default:
		return nil, &UnsupportedPacketError{Tag: p.packetKind()}
	}
}

// encodeRequestPacket lays out: ':' "REQ" pad(1) type(2) pad(1) pad(4) name(8) pad(29).
func encodeRequestPacket(p RequestPacket) []byte {
	var frame = make([]byte, 0, 50)
	frame = append(frame, ':')
	frame = append(frame, 'R', 'E', 'Q')
	frame = append(frame, 0xff)
	var tag = p.VariableType.Tag()
	frame = append(frame, tag[0], tag[1])
	frame = append(frame, 0xff, 0xff, 0xff, 0xff, 0xff)
	var name = encodeName8(p.VariableName)
	frame = append(frame, name[:]...)
	for len(frame) < 49 {
		frame = append(frame, 0xff)
	}
	return appendChecksum(frame)
}

func decodeRequestPacket(body []byte) (RequestPacket, error) {
	// body is the frame minus checksum, leading ':' included (body[0] == ':').
	var tag, err = categoryFromTag([2]byte{body[5], body[6]})
	if err != nil {
		return RequestPacket{}, err
	}
	var name [8]byte
	copy(name[:], body[12:20])
	return RequestPacket{VariableType: tag, VariableName: decodeName8(name)}, nil
}

// encodeValueDescriptionPacket lays out: ':' "VAL" pad(1) type(2) pad(1)
// isInUse/rowsize(1) pad(1) pad/colsize(1) name(8) realOrComplex(9) 0x0a pad(20).
// The row/col-size bytes only carry meaning for CategoryMatrix; otherwise
// they are 0x01/0x00 (in-use flag) and a plain 0xff pad respectively.
func encodeValueDescriptionPacket(p ValueDescriptionPacket) []byte {
	var frame = make([]byte, 0, 49)
	frame = append(frame, ':')
	frame = append(frame, 'V', 'A', 'L')
	frame = append(frame, 0xff)
	var tag = p.VariableType.Tag()
	frame = append(frame, tag[0], tag[1])
	frame = append(frame, 0xff)

	if p.VariableType == CategoryMatrix {
		frame = append(frame, byte(p.RowSize))
		frame = append(frame, 0xff)
		frame = append(frame, byte(p.ColSize))
	} else {
		if p.InUse {
			frame = append(frame, 0x01)
		} else {
			frame = append(frame, 0x00)
		}
		frame = append(frame, 0xff)
		frame = append(frame, 0xff)
	}

	var name = encodeName8(p.VariableName)
	frame = append(frame, name[:]...)
	var realness = p.Realness.realnessTag()
	frame = append(frame, realness[:]...)
	frame = append(frame, 0x0a)
	for len(frame) < 49 {
		frame = append(frame, 0xff)
	}
	return appendChecksum(frame)
}

func decodeValueDescriptionPacket(body []byte) (ValueDescriptionPacket, error) {
	// body is the frame minus checksum, leading ':' included (body[0] == ':').
	var category, err = categoryFromTag([2]byte{body[5], body[6]})
	if err != nil {
		return ValueDescriptionPacket{}, err
	}

	var p = ValueDescriptionPacket{VariableType: category}

	if category == CategoryMatrix {
		p.RowSize = int(body[8])
		p.ColSize = int(body[10])
	} else {
		p.InUse = body[8] == 0x01
	}

	var name [8]byte
	copy(name[:], body[11:19])
	p.VariableName = decodeName8(name)

	var realness [9]byte
	copy(realness[:], body[19:28])
	p.Realness = realnessFromTag(realness)

	return p, nil
}

func encodeEndPacket() []byte {
	var frame = make([]byte, 0, 49)
	frame = append(frame, ':')
	frame = append(frame, 'E', 'N', 'D')
	for i := 0; i < 45; i++ {
		frame = append(frame, 0xff)
	}
	return appendChecksum(frame)
}

func encodeValuePacket(p ValuePacket) ([]byte, error) {
	var realM, err = encodeComponent(p.Value.Re)
	if err != nil {
		return nil, err
	}
	var isComplex = p.Value.Im != 0

	var frame = make([]byte, 0, 26)
	frame = append(frame, ':')
	frame = append(frame, 0x00)
	frame = append(frame, byte(p.Row))
	frame = append(frame, 0x00)
	frame = append(frame, byte(p.Col))

	var realInt, realFrac, realSig, realExp = encodeComponentBytes(realM, isComplex)
	frame = append(frame, realInt)
	frame = append(frame, realFrac[:]...)
	frame = append(frame, realSig)
	frame = append(frame, realExp)

	if isComplex {
		var imagM, imagErr = encodeComponent(p.Value.Im)
		if imagErr != nil {
			return nil, imagErr
		}
		var imagInt, imagFrac, imagSig, imagExp = encodeComponentBytes(imagM, isComplex)
		frame = append(frame, imagInt)
		frame = append(frame, imagFrac[:]...)
		frame = append(frame, imagSig)
		frame = append(frame, imagExp)
	}

	return appendChecksum(frame), nil
}

func decodeValuePacket(body []byte) (ValuePacket, error) {
	// body excludes leading ':' and checksum; body[0] is the padding byte.
	var row = int(body[1])
	var col = int(body[3])

	var realInt = body[4]
	var realFrac [7]byte
	copy(realFrac[:], body[5:12])
	var realSig = body[12]
	var realExp = body[13]

	var re, isComplex, err = decodeComponentBytes(realInt, realFrac, realSig, realExp)
	if err != nil {
		return ValuePacket{}, err
	}

	var im float64
	if isComplex {
		if len(body) < 24 {
			return ValuePacket{}, &TruncatedFrameError{GotBytes: len(body)}
		}
		var imagInt = body[14]
		var imagFrac [7]byte
		copy(imagFrac[:], body[15:22])
		var imagSig = body[22]
		var imagExp = body[23]

		var imVal, _, imErr = decodeComponentBytes(imagInt, imagFrac, imagSig, imagExp)
		if imErr != nil {
			return ValuePacket{}, imErr
		}
		im = imVal
	}

	return ValuePacket{Row: row, Col: col, Value: DecimalNumber{Re: re, Im: im}}, nil
}

// DecodeFramedPacket decodes a complete ':'-tagged frame, checksum included.
func DecodeFramedPacket(frame []byte) (Packet, error) {
	if err := verifyChecksum(frame); err != nil {
		return nil, err
	}
	var body = frame[:len(frame)-1] // drop checksum, keep leading ':'

	if len(body) < 4 {
		return nil, &TruncatedFrameError{GotBytes: len(frame)}
	}

	switch {
	case bytes.Equal(body[0:4], []byte(":REQ")):
		return decodeRequestPacket(body)
	case bytes.Equal(body[0:4], []byte(":VAL")):
		return decodeValueDescriptionPacket(body)
	case bytes.Equal(body[0:4], []byte(":END")):
		return EndPacket{}, nil
	default:
		return decodeValuePacket(body[1:])
	}
}
