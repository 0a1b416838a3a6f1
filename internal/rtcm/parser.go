// internal/rtcm/parser.go
package rtcm

// Preamble is the first byte of every RTCM 3.x frame.
const Preamble = 0xD3

// crc24qPoly is the CRC24Q polynomial used by RTCM 3.x.
const crc24qPoly = 0x1864CFB

// typeBufSize is how much of the payload is retained for message type
// extraction. The 12-bit type lives in the first two payload bytes; the rest
// of the buffer is headroom for future header fields. Payload bytes past
// this window still go through the CRC but are not stored.
const typeBufSize = 12

// crc24qUpdate folds one byte into a running CRC24Q value (MSB first, no
// reflection, no final XOR).
func crc24qUpdate(crc uint32, b byte) uint32 {
	crc ^= uint32(b) << 16
	for i := 0; i < 8; i++ {
		crc <<= 1
		if crc&0x1000000 != 0 {
			crc ^= crc24qPoly
		}
	}
	return crc & 0xFFFFFF
}

// FrameResult is produced for every byte fed to the parser. The zero value
// means progress: the byte was consumed but no frame completed. On the final
// CRC byte of a frame either Valid or CRCError is set.
type FrameResult struct {
	Valid       bool
	CRCError    bool
	MessageType uint16
	Length      int
}

// Complete reports whether this result ends a frame.
func (r FrameResult) Complete() bool {
	return r.Valid || r.CRCError
}

type parserState uint8

const (
	stateSync parserState = iota
	stateLen1
	stateLen2
	statePayload
	stateCRC
)

func (s parserState) String() string {
	switch s {
	case stateSync:
		return "SYNC"
	case stateLen1:
		return "LEN1"
	case stateLen2:
		return "LEN2"
	case statePayload:
		return "PAYLOAD"
	case stateCRC:
		return "CRC"
	}
	return "UNKNOWN"
}

// Parser is a streaming RTCM 3.x frame decoder. Bytes are fed one at a time;
// each completed frame is reported with its CRC24Q verdict and 12-bit
// message type. A frame is preamble 0xD3, two length bytes whose low 10 bits
// give the payload length, the payload, and a 3-byte CRC24Q computed over
// everything before it.
//
// In SYNC any byte other than the preamble is silently discarded, which is
// how the parser recovers from a desynchronised stream. A stray 0xD3 inside
// a payload or CRC does not resynchronise; the CRC check rejects the bogus
// frame and the scan resumes from SYNC.
type Parser struct {
	state   parserState
	length  int
	index   int
	crc     uint32
	typeBuf [typeBufSize]byte
	crcBuf  [3]byte
}

// NewParser returns a parser in the SYNC state.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes one byte and reports progress or frame completion. After a
// completion result (valid or not) the parser is back in SYNC.
func (p *Parser) Feed(b byte) FrameResult {
	switch p.state {
	case stateSync:
		if b == Preamble {
			p.crc = crc24qUpdate(0, b)
			p.state = stateLen1
		}

	case stateLen1:
		// Top six bits are reserved. The RTCM spec defines them as zero but
		// live casters have been seen setting them, so they are ignored
		// rather than validated.
		p.length = int(b&0x03) << 8
		p.crc = crc24qUpdate(p.crc, b)
		p.state = stateLen2

	case stateLen2:
		p.length |= int(b)
		p.crc = crc24qUpdate(p.crc, b)
		p.index = 0
		if p.length == 0 {
			// Zero-length payload is legal; go straight to the CRC.
			p.state = stateCRC
		} else {
			p.state = statePayload
		}

	case statePayload:
		if p.index < typeBufSize {
			p.typeBuf[p.index] = b
		}
		p.crc = crc24qUpdate(p.crc, b)
		p.index++
		if p.index >= p.length {
			p.state = stateCRC
			p.index = 0
		}

	case stateCRC:
		p.crcBuf[p.index] = b
		p.index++
		if p.index >= 3 {
			received := uint32(p.crcBuf[0])<<16 |
				uint32(p.crcBuf[1])<<8 |
				uint32(p.crcBuf[2])

			result := FrameResult{Length: p.length}
			if p.crc == received {
				result.Valid = true
				result.MessageType = p.messageType()
			} else {
				result.CRCError = true
			}
			p.Reset()
			return result
		}
	}

	return FrameResult{}
}

// messageType extracts the 12-bit message type from the start of the
// payload: all of byte 0 plus the upper nibble of byte 1.
func (p *Parser) messageType() uint16 {
	if p.length < 2 {
		return 0
	}
	return uint16(p.typeBuf[0])<<4 | uint16(p.typeBuf[1]>>4)&0x0F
}

// Reset returns the parser to SYNC. It is a no-op if the parser is already
// waiting for a preamble.
func (p *Parser) Reset() {
	p.state = stateSync
	p.length = 0
	p.index = 0
	p.crc = 0
}

// State returns the name of the current decoder state, for debug logs.
func (p *Parser) State() string {
	return p.state.String()
}
