package main

import (
	"testing"

	"eduflow/pkg/auth"
	"eduflow/pkg/store"
)

func TestSeedCreatesTestUserOnce(t *testing.T) {
	st := store.NewMemoryStore()

	created, err := seed(st)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !created {
		t.Fatalf("expected user to be created on empty store")
	}
	user, ok, err := st.GetUserByUsername(seedUsername)
	if err != nil || !ok {
		t.Fatalf("seeded user missing: ok=%v err=%v", ok, err)
	}
	if user.Email != seedEmail || !user.IsActive {
		t.Fatalf("unexpected seeded user: %+v", user)
	}
	if !auth.CheckPassword(seedPassword, user.PasswordHash) {
		t.Fatalf("seeded password does not verify")
	}

	created, err = seed(st)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if created {
		t.Fatalf("seed must be a no-op when users exist")
	}
	if n, _ := st.UserCount(); n != 1 {
		t.Fatalf("user count = %d, want 1", n)
	}
}
