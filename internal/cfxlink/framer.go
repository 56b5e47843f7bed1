package cfxlink

import "io"

/*------------------------------------------------------------------
 *
 * Purpose:	Frame raw transport bytes into complete packets for the
 *		codec. The transport is expected to enforce the ~50 ms
 *		inter-byte idle gap itself (e.g. a serial port opened with
 *		an inter-byte timeout, or a deadline re-armed per byte); a
 *		short read here always means that gap fired mid-frame, so
 *		it is surfaced as TruncatedFrameError rather than retried.
 *
 *---------------------------------------------------------------*/

const (
	lenControlPacket = 1
	lenFixedPacket   = 50
	lenRealValue     = 16
	lenComplexValue  = 26
)

// ReadFrame reads exactly one framed packet from r and decodes it.
func ReadFrame(r io.Reader) (Packet, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, truncatedFrame(err, 0)
	}

	if pkt, ok := DecodeControlByte(first[0]); ok {
		return pkt, nil
	}

	if first[0] != ':' {
		return nil, &UnsupportedPacketError{Tag: string(first[0])}
	}

	var tag [3]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, truncatedFrame(err, 1)
	}

	switch string(tag[:]) {
	case "REQ", "VAL", "END":
		return readRestOfFrame(r, first[0], tag[:], lenFixedPacket)

	case "DD@", "IMG", "TXT", "MEM", "FNC":
		var rest = make([]byte, lenFixedPacket-4)
		io.ReadFull(r, rest) // best-effort drain; packet is unsupported regardless
		return nil, &UnsupportedPacketError{Tag: ":" + string(tag[:])}

	default:
		return readValueFrame(r, first[0], tag[:])
	}
}

func readRestOfFrame(r io.Reader, leading byte, tag []byte, totalLen int) (Packet, error) {
	var rest = make([]byte, totalLen-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, truncatedFrame(err, 4)
	}
	var frame = make([]byte, 0, totalLen)
	frame = append(frame, leading)
	frame = append(frame, tag...)
	frame = append(frame, rest...)
	return DecodeFramedPacket(frame)
}

// readValueFrame has already consumed offsets 0-3 (colon plus the three
// bytes that would have been the ASCII tag on a fixed packet). It reads up
// through offset 13 (the real sign-info byte) to learn whether this is a
// 16- or 26-byte VALUE packet, then reads the remainder.
func readValueFrame(r io.Reader, leading byte, head []byte) (Packet, error) {
	var mid = make([]byte, 10) // offsets 4..13
	if _, err := io.ReadFull(r, mid); err != nil {
		return nil, truncatedFrame(err, 4)
	}

	var signInfo = mid[len(mid)-1]
	var totalLen = lenRealValue
	if signInfo&0x80 != 0 {
		totalLen = lenComplexValue
	}

	var frame = make([]byte, 0, totalLen)
	frame = append(frame, leading)
	frame = append(frame, head...)
	frame = append(frame, mid...)

	var remaining = totalLen - len(frame)
	if remaining > 0 {
		var rest = make([]byte, remaining)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, truncatedFrame(err, len(frame))
		}
		frame = append(frame, rest...)
	}

	return DecodeFramedPacket(frame)
}

func truncatedFrame(err error, gotBytes int) error {
	if gotBytes == 0 {
		return err
	}
	return &TruncatedFrameError{GotBytes: gotBytes}
}
