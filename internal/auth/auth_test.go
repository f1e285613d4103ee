package auth

import (
	"context"
	"fmt"
	"math"
	"testing"
)

// Generated ids must stay within the signed 64-bit range: database/sql
// refuses uint64 parameters with the high bit set, so an id outside it
// would make every insert and lookup fail.
func TestNewUserIDFitsSignedRange(t *testing.T) {
	for i := 0; i < 256; i++ {
		id, err := NewUserID()
		if err != nil {
			t.Fatalf("error generating user id: %s", err)
		}
		if id == 0 {
			t.Fatal("expected a non-zero user id")
		}
		if id > math.MaxInt64 {
			t.Fatalf("user id %d exceeds the signed 64-bit range", id)
		}
	}
}

// Registration persists a freshly generated id on every call, so a batch
// of registrations exercises the id range end to end.
func TestLocalRegisterManyAccounts(t *testing.T) {
	local := setUpLocal(t)
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		username := fmt.Sprintf("user%02d", i)
		grant, err := local.Register(ctx, username, "secret")
		if err != nil {
			t.Fatalf("error registering %s: %s", username, err)
		}

		got, err := local.GetUser(ctx, grant.UserID)
		if err != nil {
			t.Fatalf("error retrieving %s by id %d: %s", username, grant.UserID, err)
		}
		if got != username {
			t.Errorf("expected username = %s, got %s", username, got)
		}
	}
}
