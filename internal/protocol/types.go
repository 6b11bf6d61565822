package protocol

const (
	Magic      uint32 = 0xF1AE0001
	Version    uint16 = 1
	HeaderSize uint16 = 32

	// MaxPayloadBytes bounds a single decoded payload.
	MaxPayloadBytes uint64 = 8 * 1024 * 1024
)

// MessageType identifies the payload schema of a message.
type MessageType uint32

const (
	MessageRowDown MessageType = 1
	MessageRowUp   MessageType = 2
	MessageBand    MessageType = 3
	MessageScatter MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageRowDown:
		return "row.down"
	case MessageRowUp:
		return "row.up"
	case MessageBand:
		return "band"
	case MessageScatter:
		return "scatter"
	default:
		return "unknown"
	}
}

// FieldType is the TLV value type tag.
type FieldType uint8

const (
	FieldUint8  FieldType = 1
	FieldUint16 FieldType = 2
	FieldUint32 FieldType = 3
	FieldUint64 FieldType = 4
	FieldBool   FieldType = 5
	FieldString FieldType = 6
	FieldBytes  FieldType = 7
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType MessageType
	Flags       uint32
	PayloadLen  uint64
}

// Field is one TLV field.
type Field struct {
	ID    uint16
	Type  FieldType
	Value []byte
}

// Message is one complete wire message.
type Message struct {
	Header Header
	Fields []Field
}
