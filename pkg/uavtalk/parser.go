package uavtalk

import "encoding/binary"

// Parser decodes frames from a byte stream, one byte at a time.
type Parser struct {
	Objects ObjectLookup

	state      parseState
	frame      *Frame
	crc        byte
	buf        [4]byte
	count      int
	length     int
	payloadLen int
}

// ParseResult is the result after one parsing step.
// Err is set when the byte is discarded, or a frame is rejected.
type ParseResult struct {
	Frame *Frame
	Err   error
}

type parseState int

const (
	stateSync       parseState = iota // looking for sync byte
	stateType                         // waiting for message type
	stateLength                       // receiving 2 bytes length
	stateObjectID                     // receiving 4 bytes object id
	stateInstanceID                   // receiving 2 bytes instance id
	statePayload                      // receiving payload
	stateChecksum                     // waiting for checksum
)

// NewParser creates a Parser.
func NewParser(objects ObjectLookup) *Parser {
	return &Parser{Objects: objects}
}

// InFrame indicates the parser is in the middle of a frame.
func (p *Parser) InFrame() bool {
	return p.state != stateSync
}

// Reset drops any partially received frame.
func (p *Parser) Reset() {
	p.state, p.frame = stateSync, nil
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	if p.state != stateChecksum {
		p.crc = updateChecksum(p.crc, b)
	}
	switch p.state {
	case stateSync:
		if b != SyncByte {
			pr.Err = ErrNoSync
			return
		}
		p.crc = updateChecksum(0, b)
		p.frame = &Frame{}
		p.state = stateType
	case stateType:
		if b&typeMask != typeVersion || !MessageType(b).IsValid() {
			return p.reject(ErrBadType)
		}
		p.frame.Type = MessageType(b)
		p.count, p.state = 0, stateLength
	case stateLength:
		if p.collect(b, 2) {
			p.length = int(binary.LittleEndian.Uint16(p.buf[:]))
			if p.length < HeaderLength || p.length > InstanceHeaderLength+MaxPayloadLength {
				return p.reject(ErrBadLength)
			}
			p.count, p.state = 0, stateObjectID
		}
	case stateObjectID:
		if p.collect(b, 4) {
			p.frame.ObjectID = binary.LittleEndian.Uint32(p.buf[:])
			return p.objectIDReady()
		}
	case stateInstanceID:
		if p.collect(b, 2) {
			p.frame.InstanceID = binary.LittleEndian.Uint16(p.buf[:])
			p.beginPayload()
		}
	case statePayload:
		p.frame.Payload[p.count] = b
		if p.count++; p.count >= p.payloadLen {
			p.state = stateChecksum
		}
	case stateChecksum:
		if b != p.crc {
			return p.reject(ErrChecksum)
		}
		pr.Frame, p.frame = p.frame, nil
		p.state = stateSync
	}
	return
}

func (p *Parser) collect(b byte, size int) bool {
	p.buf[p.count] = b
	p.count++
	return p.count >= size
}

func (p *Parser) objectIDReady() (pr ParseResult) {
	f := p.frame
	def, known := p.Objects.Lookup(f.ObjectID)
	if !known && f.Type != TypeObjectRequest && f.Type != TypeNack {
		return p.reject(ErrUnknownObject)
	}
	p.payloadLen = 0
	if !known || f.Type == TypeNack {
		// only the length tells if the instance id is present.
		switch p.length {
		case HeaderLength:
		case InstanceHeaderLength:
			f.HasInstance = true
		default:
			return p.reject(ErrBadLength)
		}
	} else {
		f.HasInstance = !def.SingleInstance
		if f.Type.HasPayload() {
			p.payloadLen = def.NumBytes()
		}
		expected := HeaderLength + p.payloadLen
		if f.HasInstance {
			expected = InstanceHeaderLength + p.payloadLen
		}
		if p.length != expected {
			return p.reject(ErrBadLength)
		}
	}
	p.count = 0
	if f.HasInstance {
		p.state = stateInstanceID
	} else {
		p.beginPayload()
	}
	return
}

func (p *Parser) beginPayload() {
	p.count = 0
	if p.payloadLen > 0 {
		p.frame.Payload = make([]byte, p.payloadLen)
		p.state = statePayload
	} else {
		p.state = stateChecksum
	}
}

func (p *Parser) reject(err error) ParseResult {
	p.Reset()
	return ParseResult{Err: err}
}

// Decode decodes the first frame in data and returns the number of bytes consumed.
// Without a complete frame, it returns ErrNeedMoreData if data is the valid
// beginning of a frame, or ErrCorrupt if any bytes were discarded; then the
// consumed count excludes the partial frame at the end, if any.
func Decode(data []byte, objects ObjectLookup) (*Frame, int, error) {
	p := NewParser(objects)
	start, discarded := 0, false
	for n, b := range data {
		inFrame := p.InFrame()
		pr := p.Parse(b)
		if !inFrame && p.InFrame() {
			start = n
		}
		if pr.Frame != nil {
			return pr.Frame, n + 1, nil
		}
		if pr.Err != nil {
			discarded = true
		}
	}
	if !discarded {
		return nil, 0, ErrNeedMoreData
	}
	if p.InFrame() {
		return nil, start, ErrCorrupt
	}
	return nil, len(data), ErrCorrupt
}
