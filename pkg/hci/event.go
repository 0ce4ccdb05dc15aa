package hci

import (
	"encoding/binary"
	"errors"
	"io"
)

// EventData is a decoded HCI event: the event code plus its raw parameter
// bytes. The typed accessors below reinterpret the parameters for the
// events this stack inspects.
type EventData struct {
	Code    EventCode
	Payload []byte
}

// UnmarshalEvent decodes an event frame whose packet indicator byte has
// already been consumed: one event code byte, one parameter length byte,
// then the parameters.
func UnmarshalEvent(buf []byte) (*EventData, error) {
	if len(buf) < 2 {
		return nil, io.ErrShortBuffer
	}
	s := int(buf[1])
	if len(buf) != s+2 {
		return nil, io.ErrShortBuffer
	}
	return &EventData{Code: EventCode(buf[0]), Payload: buf[2:]}, nil
}

func (e *EventData) Marshal() ([]byte, error) {
	if len(e.Payload) > 0xFF {
		return nil, io.ErrShortWrite
	}
	buf := make([]byte, 2, 2+len(e.Payload))
	buf[0] = byte(e.Code)
	buf[1] = byte(len(e.Payload))
	return append(buf, e.Payload...), nil
}

type CommandComplete struct {
	NumCommandPackets uint8
	CommandOpcode     Opcode
	ReturnParameters  []byte
}

func (e *EventData) CommandComplete() (*CommandComplete, error) {
	if e.Code != EventCodeCommandComplete {
		return nil, errors.New("incorrect event code")
	}
	if len(e.Payload) < 3 {
		return nil, io.ErrShortBuffer
	}
	return &CommandComplete{
		NumCommandPackets: e.Payload[0],
		CommandOpcode:     Opcode(binary.LittleEndian.Uint16(e.Payload[1:])),
		ReturnParameters:  e.Payload[3:],
	}, nil
}

type CommandStatus struct {
	Status            uint8
	NumCommandPackets uint8
	CommandOpcode     Opcode
}

func (e *EventData) CommandStatus() (*CommandStatus, error) {
	if e.Code != EventCodeCommandStatus {
		return nil, errors.New("incorrect event code")
	}
	if len(e.Payload) != 4 {
		return nil, io.ErrShortBuffer
	}
	return &CommandStatus{
		Status:            e.Payload[0],
		NumCommandPackets: e.Payload[1],
		CommandOpcode:     Opcode(binary.LittleEndian.Uint16(e.Payload[2:])),
	}, nil
}

type DisconnectionComplete struct {
	Status           uint8
	ConnectionHandle ConnectionHandle
	Reason           uint8
}

func (e *EventData) DisconnectionComplete() (*DisconnectionComplete, error) {
	if e.Code != EventCodeDisconnectionComplete {
		return nil, errors.New("incorrect event code")
	}
	if len(e.Payload) != 4 {
		return nil, io.ErrShortBuffer
	}
	return &DisconnectionComplete{
		Status:           e.Payload[0],
		ConnectionHandle: ConnectionHandle(binary.LittleEndian.Uint16(e.Payload[1:]) & 0x0FFF),
		Reason:           e.Payload[3],
	}, nil
}

type NumberOfCompletedPackets struct {
	ConnectionHandles   []ConnectionHandle
	NumCompletedPackets []uint16
}

func (e *EventData) NumberOfCompletedPackets() (*NumberOfCompletedPackets, error) {
	if e.Code != EventCodeNumberOfCompletedPackets {
		return nil, errors.New("incorrect event code")
	}
	if len(e.Payload) < 1 {
		return nil, io.ErrShortBuffer
	}
	n := int(e.Payload[0])
	if len(e.Payload) != 1+n*4 {
		return nil, io.ErrShortBuffer
	}
	p := &NumberOfCompletedPackets{
		ConnectionHandles:   make([]ConnectionHandle, n),
		NumCompletedPackets: make([]uint16, n),
	}
	for i := 0; i < n; i++ {
		p.ConnectionHandles[i] = ConnectionHandle(binary.LittleEndian.Uint16(e.Payload[1+i*2:]))
		p.NumCompletedPackets[i] = binary.LittleEndian.Uint16(e.Payload[1+n*2+i*2:])
	}
	return p, nil
}
