package protocol

// The Editor category is reserved. Its payload schemas are unspecified
// upstream, so only the acknowledgement opcode round-trips; everything
// else in the category is an addressing error.

// Client-originated Editor opcodes.
const (
	ClientEditorSuccessResp uint16 = 0x00
)

// Server-originated Editor opcodes.
const (
	ServerEditorSuccessResp         uint16 = 0x00
	ServerEditorErrNotAuthenticated uint16 = 0xffff
)

var clientEditorSpecs = map[uint16]*opcodeSpec{
	ClientEditorSuccessResp: {},
}

var serverEditorSpecs = map[uint16]*opcodeSpec{
	ServerEditorSuccessResp:         {},
	ServerEditorErrNotAuthenticated: {},
}
