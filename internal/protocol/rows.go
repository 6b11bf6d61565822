package protocol

import "fmt"

// Field IDs shared by every row-carrying message.
const (
	FieldSource     uint16 = 1
	FieldGeneration uint16 = 2
	FieldStartRow   uint16 = 3
	FieldCols       uint16 = 4
	FieldCells      uint16 = 5
)

var rowFields = []FieldSpec{
	{ID: FieldSource, Type: FieldUint32, Required: true},
	{ID: FieldGeneration, Type: FieldUint64, Required: true},
	{ID: FieldStartRow, Type: FieldUint32, Required: true},
	{ID: FieldCols, Type: FieldUint32, Required: true},
	{ID: FieldCells, Type: FieldBytes, Required: true},
}

// RowSchema returns the schema for one of the row message types.
func RowSchema(t MessageType) (Schema, error) {
	switch t {
	case MessageRowDown, MessageRowUp, MessageBand, MessageScatter:
		return Schema{MessageType: t, Fields: rowFields}, nil
	default:
		return Schema{}, fmt.Errorf("%w: %d", ErrUnknownMessageType, t)
	}
}

// Rows is one or more whole grid rows in flight between ranks.
type Rows struct {
	Type       MessageType
	Source     uint32
	Generation uint64
	StartRow   uint32
	Cols       uint32
	Cells      []byte
}

// Message builds the wire message for r.
func (r Rows) Message(id uint64) *Message {
	return &Message{
		Header: Header{MessageID: id, MessageType: r.Type},
		Fields: []Field{
			NewFieldUint32(FieldSource, r.Source),
			NewFieldUint64(FieldGeneration, r.Generation),
			NewFieldUint32(FieldStartRow, r.StartRow),
			NewFieldUint32(FieldCols, r.Cols),
			NewFieldBytes(FieldCells, r.Cells),
		},
	}
}

// ParseRows validates msg against its row schema.
func ParseRows(msg *Message) (Rows, error) {
	if msg == nil {
		return Rows{}, ErrInvalidLength
	}
	schema, err := RowSchema(msg.Header.MessageType)
	if err != nil {
		return Rows{}, err
	}
	sem, err := ParseSemantic(msg, schema)
	if err != nil {
		return Rows{}, err
	}
	out := Rows{
		Type:       sem.MessageType,
		Source:     sem.Fields[FieldSource].Uint32,
		Generation: sem.Fields[FieldGeneration].Uint64,
		StartRow:   sem.Fields[FieldStartRow].Uint32,
		Cols:       sem.Fields[FieldCols].Uint32,
		Cells:      sem.Fields[FieldCells].Bytes,
	}
	if out.Cols == 0 || len(out.Cells)%int(out.Cols) != 0 {
		return Rows{}, fmt.Errorf("%w: %d cells over %d columns", ErrInvalidLength, len(out.Cells), out.Cols)
	}
	return out, nil
}
