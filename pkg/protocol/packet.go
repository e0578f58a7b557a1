// Package protocol implements the portal wire protocol: a JSON packet
// {HEADER, ARGUMENT, VALUE} carried in a checksummed, XOR-obfuscated byte
// frame.
//
// The framing is an integrity check plus light obfuscation, NOT a security
// boundary: the XOR keystream is derived from the CRC that ships inside the
// frame, so anyone holding a frame can decode it. Confidentiality, if
// needed, must come from the transport (wss).
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the maximum accepted frame size (1 MB).
const MaxFrameSize = 1024 * 1024

// Packet headers. A header is a coarse message class; the argument names the
// verb and VALUE carries verb-specific JSON.
const (
	HeaderSys   = "SYS" // system control
	HeaderGet   = "GET" // read request
	HeaderSet   = "SET" // write request / write echo
	HeaderOK    = "OK!" // success echo
	HeaderError = "ER!" // error echo
)

// Argument verbs understood by the server.
const (
	ArgJoinGroup     = "JoinGroup"
	ArgLeaveGroup    = "LeaveGroup"
	ArgLeaveGroups   = "LeaveGroups"
	ArgCreateGroup   = "CreateGroup"
	ArgDeleteGroup   = "DeleteGroup"
	ArgGroupList     = "GroupList"
	ArgGroupMessage  = "GroupMessage"
	ArgGroupMessages = "GroupMessages"
	ArgDeleteMessage = "DeleteMessage"
	ArgStatus        = "Status"
	ArgModuleList    = "ModuleList"
	ArgModuleConfig  = "ModuleConfig"
)

var (
	ErrInvalidInput     = errors.New("header and argument must be non-empty and value must be a JSON object")
	ErrFrameTooShort    = errors.New("frame shorter than two bytes")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size (1 MB)")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
)

// Packet is the decoded unit of protocol meaning. Value stays raw JSON until
// a handler knows which verb-specific struct to decode it into.
type Packet struct {
	Header   string          `json:"HEADER"`
	Argument string          `json:"ARGUMENT"`
	Value    json.RawMessage `json:"VALUE"`
}

// DecodeValue unmarshals the packet VALUE into v.
func (p *Packet) DecodeValue(v any) error {
	if err := json.Unmarshal(p.Value, v); err != nil {
		return fmt.Errorf("decode %s %s value: %w", p.Header, p.Argument, err)
	}
	return nil
}

// Encode serializes a packet into a wire frame.
//
// The JSON body is checksummed with CRC16/MODBUS, XORed with the two-byte
// keystream [crc&0xFF, crc>>8] and wrapped as [crcHigh] body [crcLow].
func Encode(header, argument string, value any) ([]byte, error) {
	if header == "" || argument == "" {
		return nil, ErrInvalidInput
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s value: %w", header, argument, err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ErrInvalidInput
	}

	body, err := json.Marshal(Packet{Header: header, Argument: argument, Value: raw})
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}

	crc := Checksum(body)
	frame := make([]byte, len(body)+2)
	frame[0] = byte(crc >> 8)
	copy(frame[1:], cryptBytes(body, crc))
	frame[len(frame)-1] = byte(crc)

	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return frame, nil
}

// Decode verifies and deserializes a wire frame into a packet.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < 2 {
		return nil, ErrFrameTooShort
	}
	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	receivedCrc := uint16(frame[0])<<8 | uint16(frame[len(frame)-1])
	body := cryptBytes(frame[1:len(frame)-1], receivedCrc)
	if Checksum(body) != receivedCrc {
		return nil, ErrChecksumMismatch
	}

	var p Packet
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("malformed packet JSON: %w", err)
	}
	return &p, nil
}
