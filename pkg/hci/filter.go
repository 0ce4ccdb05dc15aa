package hci

import "encoding/binary"

// Filter mirrors the kernel-resident struct hci_filter: which packet types
// and event codes the socket delivers. Bit v of the event mask lives at
// word v/32, bit v%32, matching the bluez hci_set_bit layout.
type Filter struct {
	TypeMask  uint32
	EventMask [2]uint32
	Opcode    uint16
}

func (f *Filter) SetPacketType(t PacketType) {
	f.TypeMask |= 1 << uint32(t)
}

func (f *Filter) ClearPacketType(t PacketType) {
	f.TypeMask &^= 1 << uint32(t)
}

// Event bits follow the bluez hci_filter_set_event convention: codes are
// truncated to the 64 bits the kernel struct carries.
func (f *Filter) SetEvent(c EventCode) {
	v := uint32(c) & 63
	f.EventMask[v>>5] |= 1 << (v & 31)
}

func (f *Filter) ClearEvent(c EventCode) {
	v := uint32(c) & 63
	f.EventMask[v>>5] &^= 1 << (v & 31)
}

func (f *Filter) TestEvent(c EventCode) bool {
	v := uint32(c) & 63
	return f.EventMask[v>>5]&(1<<(v&31)) != 0
}

// Marshal lays the filter out as the kernel expects it for the HCI_FILTER
// socket option.
func (f *Filter) Marshal() []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint32(buf, f.TypeMask)
	binary.LittleEndian.PutUint32(buf[4:], f.EventMask[0])
	binary.LittleEndian.PutUint32(buf[8:], f.EventMask[1])
	binary.LittleEndian.PutUint16(buf[12:], f.Opcode)
	return buf
}
