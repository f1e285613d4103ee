package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// The codec is schema-driven: every payload-bearing opcode binds an ordered
// list of (field name, wire type) pairs, and one generic routine interprets
// that list in either direction. Record payloads are field-keyed maps on the
// wire; positional payloads are fixed-arity arrays read left to right.

type wireType uint8

const (
	typeString wireType = iota + 1
	typeUint64
	typeBinary
	typeProjectList
)

type field struct {
	name string
	typ  wireType
}

// payloadSchema describes the wire layout of one opcode's payload. A nil
// *payloadSchema means the opcode carries no payload and anything trailing
// the address is ignored.
type payloadSchema struct {
	positional bool
	fields     []field
}

func record(fields ...field) *payloadSchema {
	return &payloadSchema{fields: fields}
}

// decodePayload reads a payload according to schema and returns the decoded
// values keyed by field name. Validation failures are reported as errPayload;
// the caller attaches the category and opcode.
func decodePayload(dec *msgpack.Decoder, schema *payloadSchema) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	if schema.positional {
		return decodeTuplePayload(dec, schema)
	}
	return decodeRecordPayload(dec, schema)
}

func decodeRecordPayload(dec *msgpack.Decoder, schema *payloadSchema) (map[string]any, error) {
	n, err := dec.DecodeMapLen()
	if err != nil || n < 0 {
		return nil, errPayload
	}

	values := make(map[string]any, len(schema.fields))
	for i := 0; i < n; i++ {
		code, err := dec.PeekCode()
		if err != nil {
			return nil, fmt.Errorf("reading payload key: %w", err)
		}
		// Non-string keys are dropped along with their values, the same
		// way unknown keys are.
		if !msgpcode.IsString(code) && !msgpcode.IsFixedString(code) {
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("skipping payload key: %w", err)
			}
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("skipping payload value: %w", err)
			}
			continue
		}

		key, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("reading payload key: %w", err)
		}

		f := schema.lookup(key)
		if f == nil {
			// Unknown keys are ignored for forward compatibility.
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("skipping unknown payload field %q: %w", key, err)
			}
			continue
		}

		value, err := decodeValue(dec, f.typ)
		if err != nil {
			return nil, err
		}
		values[key] = value
	}

	for _, f := range schema.fields {
		if _, ok := values[f.name]; !ok {
			return nil, errPayload
		}
	}
	return values, nil
}

func decodeTuplePayload(dec *msgpack.Decoder, schema *payloadSchema) (map[string]any, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil || n != len(schema.fields) {
		return nil, errPayload
	}

	values := make(map[string]any, len(schema.fields))
	for _, f := range schema.fields {
		value, err := decodeValue(dec, f.typ)
		if err != nil {
			return nil, err
		}
		values[f.name] = value
	}
	return values, nil
}

// decodeValue reads one payload value, first checking that the value on the
// wire matches the declared type. A mismatch is a validation failure, not a
// stream error.
func decodeValue(dec *msgpack.Decoder, typ wireType) (any, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, fmt.Errorf("reading payload value: %w", err)
	}

	switch typ {
	case typeString:
		if !msgpcode.IsString(code) && !msgpcode.IsFixedString(code) {
			return nil, errPayload
		}
		v, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("reading string field: %w", err)
		}
		return v, nil

	case typeUint64:
		if !isIntFamily(code) {
			return nil, errPayload
		}
		v, err := dec.DecodeUint64()
		if err != nil {
			return nil, errPayload
		}
		return v, nil

	case typeBinary:
		if !msgpcode.IsBin(code) {
			return nil, errPayload
		}
		v, err := dec.DecodeBytes()
		if err != nil {
			return nil, fmt.Errorf("reading binary field: %w", err)
		}
		return v, nil

	case typeProjectList:
		return decodeProjectList(dec)

	default:
		return nil, errPayload
	}
}

func (s *payloadSchema) lookup(name string) *field {
	for i := range s.fields {
		if s.fields[i].name == name {
			return &s.fields[i]
		}
	}
	return nil
}

func isIntFamily(code byte) bool {
	return msgpcode.IsFixedNum(code) ||
		code == msgpcode.Uint8 || code == msgpcode.Uint16 ||
		code == msgpcode.Uint32 || code == msgpcode.Uint64 ||
		code == msgpcode.Int8 || code == msgpcode.Int16 ||
		code == msgpcode.Int32 || code == msgpcode.Int64
}

// encodePayload writes a payload according to schema from values keyed by
// field name. The field order of the schema is the order on the wire.
func encodePayload(enc *msgpack.Encoder, schema *payloadSchema, values map[string]any) error {
	if schema == nil {
		return enc.EncodeNil()
	}

	if schema.positional {
		if err := enc.EncodeArrayLen(len(schema.fields)); err != nil {
			return err
		}
	} else {
		if err := enc.EncodeMapLen(len(schema.fields)); err != nil {
			return err
		}
	}

	for _, f := range schema.fields {
		if !schema.positional {
			if err := enc.EncodeString(f.name); err != nil {
				return err
			}
		}
		value, ok := values[f.name]
		if !ok {
			return fmt.Errorf("missing value for payload field %q", f.name)
		}
		if err := encodeValue(enc, f.typ, value); err != nil {
			return fmt.Errorf("encoding payload field %q: %w", f.name, err)
		}
	}
	return nil
}

func encodeValue(enc *msgpack.Encoder, typ wireType, value any) error {
	switch typ {
	case typeString:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		return enc.EncodeString(v)

	case typeUint64:
		v, ok := value.(uint64)
		if !ok {
			return fmt.Errorf("expected uint64, got %T", value)
		}
		return enc.EncodeUint64(v)

	case typeBinary:
		v, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("expected []byte, got %T", value)
		}
		return enc.EncodeBytes(v)

	case typeProjectList:
		v, ok := value.([]Project)
		if !ok {
			return fmt.Errorf("expected []Project, got %T", value)
		}
		return encodeProjectList(enc, v)

	default:
		return fmt.Errorf("unhandled wire type %d", typ)
	}
}
