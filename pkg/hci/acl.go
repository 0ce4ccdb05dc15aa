package hci

import (
	"encoding/binary"
	"io"
)

// ACLData is one HCI ACL data packet. Handle occupies the low 12 bits of
// the wire header; the packet boundary and broadcast flags sit above it.
type ACLData struct {
	ConnectionHandle   ConnectionHandle
	PacketBoundaryFlag uint8
	BroadcastFlag      uint8
	Payload            []byte
}

// UnmarshalACL decodes an ACL frame whose packet indicator byte has already
// been consumed: two header bytes, two length bytes, then the payload.
func UnmarshalACL(buf []byte) (*ACLData, error) {
	if len(buf) < 4 {
		return nil, io.ErrShortBuffer
	}
	h := binary.LittleEndian.Uint16(buf)
	s := binary.LittleEndian.Uint16(buf[2:])
	if len(buf) != int(s)+4 {
		return nil, io.ErrShortBuffer
	}
	return &ACLData{
		ConnectionHandle:   ConnectionHandle(h & 0x0FFF),
		PacketBoundaryFlag: byte((h >> 12) & 0x03),
		BroadcastFlag:      byte((h >> 14) & 0x03),
		Payload:            buf[4:],
	}, nil
}

// Marshal produces the full wire packet including the indicator byte, ready
// to be written to the controller.
func (d *ACLData) Marshal() ([]byte, error) {
	buf := make([]byte, 5, 5+len(d.Payload))
	buf[0] = byte(PacketTypeACLData)
	binary.LittleEndian.PutUint16(buf[1:], uint16(d.ConnectionHandle)|(uint16(d.PacketBoundaryFlag)<<12)|(uint16(d.BroadcastFlag)<<14))
	binary.LittleEndian.PutUint16(buf[3:], uint16(len(d.Payload)))
	return append(buf, d.Payload...), nil
}
