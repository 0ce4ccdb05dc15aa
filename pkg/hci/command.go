package hci

import "encoding/binary"

// Command is an HCI command packet. Marshal produces the full wire packet
// including the indicator byte.
type Command interface {
	Marshal() ([]byte, error)
	Opcode() Opcode
}

// GenericCommand encompasses the many argument-less commands.
type GenericCommand struct {
	opcode Opcode
}

func NewGenericCommand(opcode Opcode) *GenericCommand {
	return &GenericCommand{opcode}
}

func (p *GenericCommand) Marshal() ([]byte, error) {
	buf := make([]byte, 4)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(p.opcode))
	return buf, nil
}

func (p *GenericCommand) Opcode() Opcode {
	return p.opcode
}

// Section 7.3.1
type EventMask uint64

const (
	EventMaskDisconnectionCompleteEvent        EventMask = (1 << 4)
	EventMaskEncryptionChangeEvent             EventMask = (1 << 7)
	EventMaskHardwareErrorEvent                EventMask = (1 << 15)
	EventMaskEncryptionKeyRefreshCompleteEvent EventMask = (1 << 47)
	EventMaskLEMetaEvent                       EventMask = (1 << 61)
)

type SetEventMaskCommand struct {
	EventMask
}

func (p *SetEventMaskCommand) Marshal() ([]byte, error) {
	buf := make([]byte, 12)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeSetEventMask))
	buf[3] = 8
	binary.LittleEndian.PutUint64(buf[4:], uint64(p.EventMask))
	return buf, nil
}

func (p *SetEventMaskCommand) Opcode() Opcode {
	return OpcodeSetEventMask
}

// Section 7.8.1
type LEEventMask uint64

const (
	LEEventMaskConnectionCompleteEvent             LEEventMask = (1 << 0)
	LEEventMaskAdvertisingReportEvent              LEEventMask = (1 << 1)
	LEEventMaskConnectionUpdateCompleteEvent       LEEventMask = (1 << 2)
	LEEventMaskReadRemoteUsedFeaturesCompleteEvent LEEventMask = (1 << 3)
	LEEventMaskLongTermKeyRequestEvent             LEEventMask = (1 << 4)
)

type LESetEventMaskCommand struct {
	LEEventMask
}

func (p *LESetEventMaskCommand) Marshal() ([]byte, error) {
	buf := make([]byte, 12)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeLESetEventMask))
	buf[3] = 8
	binary.LittleEndian.PutUint64(buf[4:], uint64(p.LEEventMask))
	return buf, nil
}

func (p *LESetEventMaskCommand) Opcode() Opcode {
	return OpcodeLESetEventMask
}
