// Package protocol implements the Dalang wire protocol: a MessagePack
// framing of [address, payload] pairs multiplexed across functional
// categories, plus the version handshake exchanged before any of them.
package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Protocol version advertised in the handshake frame.
const (
	VersionMajor uint8 = 0
	VersionMinor uint8 = 0
	VersionPatch uint8 = 1
)

// Extensions advertised in the handshake frame. None are defined yet.
var Extensions = []string{}

// Category is the top-level protocol namespace occupying the high 16 bits
// of a packet address. The set is closed and versioned with the protocol.
type Category uint16

const (
	CategoryAuthentication Category = 0x01
	CategoryUser           Category = 0x02
	CategoryEditor         Category = 0x03
)

func (c Category) String() string {
	switch c {
	case CategoryAuthentication:
		return "authentication"
	case CategoryUser:
		return "user"
	case CategoryEditor:
		return "editor"
	}
	return fmt.Sprintf("category(0x%04x)", uint16(c))
}

// categoryFromUint16 maps the high half of an address back to a Category,
// reporting whether the value is a member of the closed set.
func categoryFromUint16(v uint16) (Category, bool) {
	switch Category(v) {
	case CategoryAuthentication, CategoryUser, CategoryEditor:
		return Category(v), true
	}
	return 0, false
}

// Address is the 32-bit value transmitted on the wire: high 16 bits are the
// category code, low 16 bits the opcode. Both halves are unsigned.
type Address uint32

func NewAddress(category Category, opcode uint16) Address {
	return Address(uint32(category)<<16 | uint32(opcode))
}

func (a Address) CategoryBits() uint16 { return uint16(a >> 16) }
func (a Address) Opcode() uint16       { return uint16(a & 0xffff) }

// ClientPacket is a decoded client-originated packet. Payload is nil for
// opcodes that carry none, otherwise one of the typed payload structs.
type ClientPacket struct {
	Category Category
	Opcode   uint16
	Payload  any
}

// ServerPacket is a server-originated packet to be encoded onto the wire.
type ServerPacket struct {
	Category Category
	Opcode   uint16
	Payload  any
}

// opcodeSpec binds one opcode to its payload schema and the conversions
// between wire values and the opcode's typed payload struct.
type opcodeSpec struct {
	schema *payloadSchema
	// bind builds the typed payload from decoded wire values.
	bind func(values map[string]any) any
	// extract flattens the typed payload back into wire values.
	extract func(payload any) (map[string]any, error)
}

var clientSpecs = map[Category]map[uint16]*opcodeSpec{
	CategoryAuthentication: clientAuthSpecs,
	CategoryUser:           clientUserSpecs,
	CategoryEditor:         clientEditorSpecs,
}

var serverSpecs = map[Category]map[uint16]*opcodeSpec{
	CategoryAuthentication: serverAuthSpecs,
	CategoryUser:           serverUserSpecs,
	CategoryEditor:         serverEditorSpecs,
}

// Decode parses a client-originated frame into a typed packet. Every error
// it returns is a protocol violation and therefore fatal to the connection.
func Decode(data []byte) (*ClientPacket, error) {
	return decode(data, clientSpecs)
}

// DecodeServer parses a server-originated frame. The server itself never
// consumes these; the function exists for client implementations and to
// keep the codec verifiable in both directions.
func DecodeServer(data []byte) (*ServerPacket, error) {
	pkt, err := decode(data, serverSpecs)
	if err != nil {
		return nil, err
	}
	return &ServerPacket{Category: pkt.Category, Opcode: pkt.Opcode, Payload: pkt.Payload}, nil
}

func decode(data []byte, specs map[Category]map[uint16]*opcodeSpec) (*ClientPacket, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	n, err := dec.DecodeArrayLen()
	if err != nil || n != 2 {
		return nil, ErrInvalidStructure
	}

	rawAddr, err := dec.DecodeUint32()
	if err != nil {
		return nil, fmt.Errorf("reading packet address: %w", err)
	}
	addr := Address(rawAddr)

	category, ok := categoryFromUint16(addr.CategoryBits())
	if !ok {
		return nil, &UnknownCategoryError{Given: addr.CategoryBits()}
	}

	opcode := addr.Opcode()
	spec, ok := specs[category][opcode]
	if !ok {
		return nil, &UnknownOpcodeError{Category: category, Opcode: opcode}
	}

	values, err := decodePayload(dec, spec.schema)
	if err != nil {
		if errors.Is(err, errPayload) {
			return nil, &InvalidPayloadError{Category: category, Opcode: opcode}
		}
		return nil, err
	}

	pkt := &ClientPacket{Category: category, Opcode: opcode}
	if spec.bind != nil {
		pkt.Payload = spec.bind(values)
	}
	return pkt, nil
}

// Encode serializes a server-originated packet into a wire frame.
func Encode(pkt ServerPacket) ([]byte, error) {
	spec, ok := serverSpecs[pkt.Category][pkt.Opcode]
	if !ok {
		return nil, fmt.Errorf("no server opcode 0x%04x in category %s", pkt.Opcode, pkt.Category)
	}

	var values map[string]any
	if spec.extract != nil {
		var err error
		values, err = spec.extract(pkt.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding opcode 0x%04x in category %s: %w", pkt.Opcode, pkt.Category, err)
		}
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint32(uint32(NewAddress(pkt.Category, pkt.Opcode))); err != nil {
		return nil, err
	}
	if err := encodePayload(enc, spec.schema, values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeClient always panics. The server is the only party speaking this
// codec and it never re-serializes what a client sent; calling this is a
// programming error, not a runtime condition.
func EncodeClient(pkt ClientPacket) []byte {
	panic(fmt.Sprintf(
		"protocol: client packets are decode-only (attempted to encode opcode 0x%04x in category %s)",
		pkt.Opcode, pkt.Category,
	))
}

// VersionHandshakePacket builds the fixed frame sent to every client
// immediately on connect, before any category/opcode traffic:
// [[major, minor, patch], [extension names...]].
func VersionHandshakePacket() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}

	if err := enc.EncodeArrayLen(3); err != nil {
		return nil, err
	}
	for _, component := range []uint8{VersionMajor, VersionMinor, VersionPatch} {
		if err := enc.EncodeUint8(component); err != nil {
			return nil, err
		}
	}

	if err := enc.EncodeArrayLen(len(Extensions)); err != nil {
		return nil, err
	}
	for _, extension := range Extensions {
		if err := enc.EncodeString(extension); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
