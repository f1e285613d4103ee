package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-test/deep"
	"github.com/vmihailenco/msgpack/v5"
)

// buildFrame assembles a wire frame from an address and raw payload bytes.
func buildFrame(t *testing.T, addr Address, rawPayload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		t.Fatalf("error encoding frame: %s", err)
	}
	if err := enc.EncodeUint32(uint32(addr)); err != nil {
		t.Fatalf("error encoding address: %s", err)
	}
	buf.Write(rawPayload)
	return buf.Bytes()
}

// encodeMap produces msgpack bytes for a payload map built in entry order.
func encodeMap(t *testing.T, entries ...any) []byte {
	t.Helper()
	if len(entries)%2 != 0 {
		t.Fatal("encodeMap requires key/value pairs")
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(len(entries) / 2); err != nil {
		t.Fatalf("error encoding map: %s", err)
	}
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			t.Fatalf("error encoding map entry: %s", err)
		}
	}
	return buf.Bytes()
}

func TestAddressPacking(t *testing.T) {
	addr := NewAddress(CategoryAuthentication, 0x10)
	if uint32(addr) != 0x00010010 {
		t.Errorf("expected address = 0x00010010, got 0x%08x", uint32(addr))
	}
	if addr.CategoryBits() != 0x01 {
		t.Errorf("expected category bits = 0x01, got 0x%04x", addr.CategoryBits())
	}
	if addr.Opcode() != 0x10 {
		t.Errorf("expected opcode = 0x10, got 0x%04x", addr.Opcode())
	}

	// The halves are unsigned; high-bit opcodes must not sign extend.
	addr = NewAddress(CategoryUser, 0xffff)
	if uint32(addr) != 0x0002ffff {
		t.Errorf("expected address = 0x0002ffff, got 0x%08x", uint32(addr))
	}
}

// The payload bytes are the reference encoding of
// {"username": "lorem", "password": "ipsum"} taken from the protocol
// documentation, to pin the codec to the wire format rather than to our
// own encoder.
func TestDecodeLogin(t *testing.T) {
	payload := []byte{
		130, 168, 117, 115, 101, 114, 110, 97, 109, 101, 165, 108,
		111, 114, 101, 109, 168, 112, 97, 115, 115, 119, 111, 114,
		100, 165, 105, 112, 115, 117, 109,
	}

	pkt, err := Decode(buildFrame(t, NewAddress(CategoryAuthentication, ClientAuthLogin), payload))
	if err != nil {
		t.Fatalf("error decoding login frame: %s", err)
	}

	want := &ClientPacket{
		Category: CategoryAuthentication,
		Opcode:   ClientAuthLogin,
		Payload:  Login{Username: "lorem", Password: "ipsum"},
	}
	if diff := deep.Equal(pkt, want); diff != nil {
		t.Error(diff)
	}
}

func TestDecodeClientPackets(t *testing.T) {
	tests := map[string]struct {
		category Category
		opcode   uint16
		payload  []byte
		want     any
	}{
		"auth_success_resp": {
			category: CategoryAuthentication,
			opcode:   ClientAuthSuccessResp,
		},
		"auth_login_with_token": {
			category: CategoryAuthentication,
			opcode:   ClientAuthLoginWithToken,
			payload:  func() []byte { return encodeMap(t, "token", "abc123") }(),
			want:     LoginWithToken{Token: "abc123"},
		},
		"auth_register": {
			category: CategoryAuthentication,
			opcode:   ClientAuthRegister,
			payload:  func() []byte { return encodeMap(t, "username", "alice", "password", "hunter2") }(),
			want:     Register{Username: "alice", Password: "hunter2"},
		},
		"auth_logout": {
			category: CategoryAuthentication,
			opcode:   ClientAuthLogout,
		},
		"user_get_username": {
			category: CategoryUser,
			opcode:   ClientUserGetUsername,
		},
		"user_retrieve_projects_paged": {
			category: CategoryUser,
			opcode:   ClientUserRetrieveProjectsPaged,
			payload:  func() []byte { return encodeMap(t, "offset", uint64(20), "count", uint64(10)) }(),
			want:     RetrieveProjectsPaged{Offset: 20, Count: 10},
		},
		"user_retrieve_project_image": {
			category: CategoryUser,
			opcode:   ClientUserRetrieveProjectImage,
			payload:  func() []byte { return encodeMap(t, "imgid", uint64(7)) }(),
			want:     RetrieveProjectImage{ImageID: 7},
		},
		"editor_success_resp": {
			category: CategoryEditor,
			opcode:   ClientEditorSuccessResp,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			pkt, err := Decode(buildFrame(t, NewAddress(tt.category, tt.opcode), tt.payload))
			if err != nil {
				t.Fatalf("error decoding frame: %s", err)
			}
			if pkt.Category != tt.category || pkt.Opcode != tt.opcode {
				t.Errorf("decoded address = (%s, 0x%04x), want (%s, 0x%04x)",
					pkt.Category, pkt.Opcode, tt.category, tt.opcode)
			}
			if diff := deep.Equal(pkt.Payload, tt.want); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestDecodeUnknownCategory(t *testing.T) {
	for _, categoryBits := range []uint16{0x0000, 0x0004, 0x0010, 0x00ff, 0x7fff, 0xffff} {
		addr := Address(uint32(categoryBits)<<16 | 0x10)
		_, err := Decode(buildFrame(t, addr, nil))

		var unknownCategory *UnknownCategoryError
		if !errors.As(err, &unknownCategory) {
			t.Fatalf("category 0x%04x: expected UnknownCategoryError, got %v", categoryBits, err)
		}
		if unknownCategory.Given != categoryBits {
			t.Errorf("expected Given = 0x%04x, got 0x%04x", categoryBits, unknownCategory.Given)
		}
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	tests := map[string]struct {
		category Category
		opcode   uint16
	}{
		"auth":           {CategoryAuthentication, 0x99},
		"user":           {CategoryUser, 0x42},
		"editor_login":   {CategoryEditor, 0x10},
		"auth_high_bits": {CategoryAuthentication, 0xfffe},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(buildFrame(t, NewAddress(tt.category, tt.opcode), nil))

			var unknownOpcode *UnknownOpcodeError
			if !errors.As(err, &unknownOpcode) {
				t.Fatalf("expected UnknownOpcodeError, got %v", err)
			}
			if unknownOpcode.Category != tt.category || unknownOpcode.Opcode != tt.opcode {
				t.Errorf("error carries (%s, 0x%04x), want (%s, 0x%04x)",
					unknownOpcode.Category, unknownOpcode.Opcode, tt.category, tt.opcode)
			}
		})
	}
}

func TestDecodeInvalidStructure(t *testing.T) {
	oneElement := []byte{0x91, 0xce, 0x00, 0x01, 0x00, 0x10}
	threeElements := []byte{0x93, 0xce, 0x00, 0x01, 0x00, 0x10, 0xc0, 0xc0}
	notAnArray := []byte{0x81, 0xa1, 0x61, 0x01}

	for name, frame := range map[string][]byte{
		"one_element":    oneElement,
		"three_elements": threeElements,
		"not_an_array":   notAnArray,
		"empty":          {},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(frame); !errors.Is(err, ErrInvalidStructure) {
				t.Errorf("expected ErrInvalidStructure, got %v", err)
			}
		})
	}
}

func TestDecodeIgnoresUnknownPayloadKeys(t *testing.T) {
	payload := encodeMap(t,
		"username", "lorem",
		"client_version", "9.9.9",
		"password", "ipsum",
		"extra", uint64(42),
	)

	pkt, err := Decode(buildFrame(t, NewAddress(CategoryAuthentication, ClientAuthLogin), payload))
	if err != nil {
		t.Fatalf("error decoding frame with extra keys: %s", err)
	}

	want := Login{Username: "lorem", Password: "ipsum"}
	if diff := deep.Equal(pkt.Payload, want); diff != nil {
		t.Error(diff)
	}
}

func TestDecodeInvalidPayload(t *testing.T) {
	tests := map[string][]byte{
		"missing_required_key": encodeMap(t, "username", "lorem"),
		"wrong_value_type":     encodeMap(t, "username", "lorem", "password", uint64(5)),
		"not_a_map":            {0x92, 0xa5, 0x6c, 0x6f, 0x72, 0x65, 0x6d, 0xa5, 0x69, 0x70, 0x73, 0x75, 0x6d},
		"nil_payload":          {0xc0},
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			pkt, err := Decode(buildFrame(t, NewAddress(CategoryAuthentication, ClientAuthLogin), payload))

			var invalidPayload *InvalidPayloadError
			if !errors.As(err, &invalidPayload) {
				t.Fatalf("expected InvalidPayloadError, got %v", err)
			}
			if invalidPayload.Category != CategoryAuthentication || invalidPayload.Opcode != ClientAuthLogin {
				t.Errorf("error carries (%s, 0x%04x), want (authentication, 0x10)",
					invalidPayload.Category, invalidPayload.Opcode)
			}
			if pkt != nil {
				t.Errorf("expected no packet on payload error, got %+v", pkt)
			}
		})
	}
}

// Opcodes that declare no payload ignore whatever the client put in the
// payload slot.
func TestDecodeIgnoresPayloadForPayloadlessOpcodes(t *testing.T) {
	junk := encodeMap(t, "anything", uint64(12345))

	pkt, err := Decode(buildFrame(t, NewAddress(CategoryAuthentication, ClientAuthLogout), junk))
	if err != nil {
		t.Fatalf("error decoding frame: %s", err)
	}
	if pkt.Payload != nil {
		t.Errorf("expected nil payload, got %+v", pkt.Payload)
	}
}

func TestServerPacketRoundTrip(t *testing.T) {
	tests := map[string]ServerPacket{
		"auth_success": {
			Category: CategoryAuthentication,
			Opcode:   ServerAuthSuccessResp,
		},
		"auth_login_failed": {
			Category: CategoryAuthentication,
			Opcode:   ServerAuthLoginFailedInvalid,
		},
		"auth_login_success": {
			Category: CategoryAuthentication,
			Opcode:   ServerAuthLoginSuccess,
			Payload:  LoginSuccess{Token: "tok-123"},
		},
		"auth_register_taken": {
			Category: CategoryAuthentication,
			Opcode:   ServerAuthRegisterFailedUsernameTaken,
		},
		"auth_already_logged_in": {
			Category: CategoryAuthentication,
			Opcode:   ServerAuthErrAlreadyLoggedIn,
		},
		"user_username": {
			Category: CategoryUser,
			Opcode:   ServerUserUsernameResp,
			Payload:  UsernameResp{Username: "alice"},
		},
		"user_projects": {
			Category: CategoryUser,
			Opcode:   ServerUserProjectsListResp,
			Payload: ProjectsListResp{Projects: []Project{
				{ID: 1, Title: "first cut", LastEdit: 1700000100, Created: 1700000000, ImageID: 11},
				{ID: 2, Title: "teaser", LastEdit: 1700000300, Created: 1700000200, ImageID: 12},
			}},
		},
		"user_projects_total": {
			Category: CategoryUser,
			Opcode:   ServerUserProjectsTotalResp,
			Payload:  ProjectsTotalResp{Total: 17},
		},
		"user_project_image": {
			Category: CategoryUser,
			Opcode:   ServerUserProjectImageResp,
			Payload:  ProjectImageResp{Data: []byte{0x89, 0x50, 0x4e, 0x47}},
		},
		"user_not_authenticated": {
			Category: CategoryUser,
			Opcode:   ServerUserErrNotAuthenticated,
		},
		"editor_success": {
			Category: CategoryEditor,
			Opcode:   ServerEditorSuccessResp,
		},
	}

	for name, pkt := range tests {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(pkt)
			if err != nil {
				t.Fatalf("error encoding packet: %s", err)
			}

			decoded, err := DecodeServer(data)
			if err != nil {
				t.Fatalf("error decoding packet: %s", err)
			}
			if diff := deep.Equal(*decoded, pkt); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestEncodeUnknownServerOpcode(t *testing.T) {
	if _, err := Encode(ServerPacket{Category: CategoryAuthentication, Opcode: 0x4242}); err == nil {
		t.Error("expected error encoding unknown server opcode")
	}
}

func TestEncodeClientPacketPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected EncodeClient to panic")
		}
	}()
	EncodeClient(ClientPacket{Category: CategoryAuthentication, Opcode: ClientAuthLogin})
}

func TestVersionHandshakePacket(t *testing.T) {
	data, err := VersionHandshakePacket()
	if err != nil {
		t.Fatalf("error building handshake packet: %s", err)
	}

	// [[0, 0, 1], []] with each version component written as a uint8.
	want := []byte{0x92, 0x93, 0xcc, 0x00, 0xcc, 0x00, 0xcc, 0x01, 0x90}
	if !bytes.Equal(data, want) {
		t.Errorf("handshake bytes = % x, want % x", data, want)
	}
}

// The positional payload form has no opcode bound to it yet; exercise the
// interpreter directly so the mechanism stays covered.
func TestDecodeTuplePayload(t *testing.T) {
	schema := &payloadSchema{
		positional: true,
		fields: []field{
			{name: "offset", typ: typeUint64},
			{name: "title", typ: typeString},
		},
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeUint64(9); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeString("intro"); err != nil {
		t.Fatal(err)
	}

	values, err := decodePayload(msgpack.NewDecoder(&buf), schema)
	if err != nil {
		t.Fatalf("error decoding tuple payload: %s", err)
	}
	if values["offset"].(uint64) != 9 || values["title"].(string) != "intro" {
		t.Errorf("unexpected tuple values: %+v", values)
	}

	// Wrong arity fails validation, not silently truncates.
	var short bytes.Buffer
	enc = msgpack.NewEncoder(&short)
	if err := enc.EncodeArrayLen(1); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeUint64(9); err != nil {
		t.Fatal(err)
	}
	if _, err := decodePayload(msgpack.NewDecoder(&short), schema); !errors.Is(err, errPayload) {
		t.Errorf("expected payload error on arity mismatch, got %v", err)
	}
}
