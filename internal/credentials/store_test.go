package credentials

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestCacheOnlyStore(t *testing.T) {
	store, err := NewStore(Config{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	secret := &Secret{
		CredentialID: "cred-1",
		APIKey:       "key",
		SecretKey:    "secret",
		Exchange:     "binance",
		IsTestnet:    true,
	}
	if err := store.Put(ctx, secret); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "cred-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.APIKey != "key" || !got.IsTestnet {
		t.Fatalf("unexpected secret: %+v", got)
	}

	// Returned secret is a copy; mutating it must not touch the cache.
	got.APIKey = "tampered"
	again, err := store.Get(ctx, "cred-1")
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if again.APIKey != "key" {
		t.Fatal("cache should not be affected by caller mutation")
	}

	if err := store.Delete(ctx, "cred-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "cred-1"); err == nil {
		t.Fatal("expected an error after delete")
	}
}

func TestPutRequiresCredentialID(t *testing.T) {
	store, err := NewStore(Config{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Put(context.Background(), &Secret{APIKey: "key"}); err == nil {
		t.Fatal("expected an error without a credential id")
	}
}
