package hci

// https://software-dl.ti.com/simplelink/esd/simplelink_cc13x2_sdk/1.60.00.29_new/exports/docs/ble5stack/vendor_specific_guide/BLE_Vendor_Specific_HCI_Guide/hci_interface.html

type PacketType uint8

const (
	PacketTypeCommand         PacketType = 0x01
	PacketTypeACLData         PacketType = 0x02
	PacketTypeSynchronousData PacketType = 0x03
	PacketTypeEvent           PacketType = 0x04
	PacketTypeVendor          PacketType = 0xFF
)

type Opcode uint16

const (
	OpcodeSetEventMask             Opcode = 0x0C01
	OpcodeReset                    Opcode = 0x0C03
	OpcodeReadBDAddr               Opcode = 0x1009
	OpcodeLESetEventMask           Opcode = 0x2001
	OpcodeLEReadBufferSize         Opcode = 0x2002
	OpcodeReadFilterAcceptListSize Opcode = 0x200F
	OpcodeClearFilterAcceptList    Opcode = 0x2010
	OpcodeLEReadSupportedStates    Opcode = 0x201C
)

type EventCode uint8

const (
	EventCodeDisconnectionComplete                EventCode = 0x05
	EventCodeEncryptionChange                     EventCode = 0x08
	EventCodeReadRemoteVersionInformationComplete EventCode = 0x0C
	EventCodeCommandComplete                      EventCode = 0x0E
	EventCodeCommandStatus                        EventCode = 0x0F
	EventCodeHardwareError                        EventCode = 0x10
	EventCodeNumberOfCompletedPackets             EventCode = 0x13
	EventCodeDataBufferOverflow                   EventCode = 0x1A
	EventCodeEncryptionKeyRefreshComplete         EventCode = 0x30
	EventCodeLEMeta                               EventCode = 0x3E
	EventCodeAuthenticatedPayloadTimeoutExpired   EventCode = 0x57
)

type LEMetaSubeventCode uint8

const (
	LEMetaSubeventCodeConnectionComplete             LEMetaSubeventCode = 0x01
	LEMetaSubeventCodeAdvertisingReport              LEMetaSubeventCode = 0x02
	LEMetaSubeventCodeConnectionUpdate               LEMetaSubeventCode = 0x03
	LEMetaSubeventCodeReadRemoteUsedFeaturesComplete LEMetaSubeventCode = 0x04
	LEMetaSubeventCodeLongTermKeyRequest             LEMetaSubeventCode = 0x05
)

// ConnectionHandle identifies an established ACL connection. Only the low
// 12 bits are significant on the wire.
type ConnectionHandle uint16

type BDAddr [6]byte
