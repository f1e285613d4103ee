package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidStructure is returned when a frame is not the expected
// two-element [address, payload] sequence.
var ErrInvalidStructure = errors.New("packet is not a two-element array")

// UnknownCategoryError is returned when the high 16 bits of a packet
// address do not map to a known category.
type UnknownCategoryError struct {
	Given uint16
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown packet category 0x%04x", e.Given)
}

// UnknownOpcodeError is returned when an opcode is not a member of its
// category's namespace for the direction being decoded.
type UnknownOpcodeError struct {
	Category Category
	Opcode   uint16
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode 0x%04x in category %s", e.Opcode, e.Category)
}

// InvalidPayloadError is returned when an opcode's payload is missing a
// required field, carries a field of the wrong wire type, or is not the
// structure (map or array) its schema declares.
type InvalidPayloadError struct {
	Category Category
	Opcode   uint16
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload for opcode 0x%04x in category %s", e.Opcode, e.Category)
}

// errPayload is the schema interpreter's internal validation failure. The
// decode entry points convert it into an InvalidPayloadError carrying the
// offending address.
var errPayload = errors.New("invalid payload")
