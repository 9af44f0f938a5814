package crypto

import (
	"errors"
	"strings"
	"testing"
)

const masterKey = "0123456789abcdef0123456789abcdef"

func TestSealOpen(t *testing.T) {
	sealer, err := NewSealer(masterKey)
	if err != nil {
		t.Fatalf("sealer init: %v", err)
	}

	sealed, err := sealer.Seal("AUTH0_MGMT_CLIENT_SECRET", "s3cret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, Prefix) || strings.Contains(sealed, "s3cret") {
		t.Fatalf("unexpected sealed value %q", sealed)
	}

	plain, err := sealer.Open("AUTH0_MGMT_CLIENT_SECRET", sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "s3cret" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestOpenRejects(t *testing.T) {
	sealer, err := NewSealer(masterKey)
	if err != nil {
		t.Fatalf("sealer init: %v", err)
	}
	sealed, err := sealer.Seal("JWT_SECRET", "value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	other, err := NewSealer(strings.Repeat("z", 32))
	if err != nil {
		t.Fatalf("sealer init: %v", err)
	}

	if _, err := sealer.Open("AUTH0_MGMT_CLIENT_SECRET", sealed); !errors.Is(err, ErrInvalidSealed) {
		t.Fatalf("expected name binding to be enforced, got %v", err)
	}
	if _, err := other.Open("JWT_SECRET", sealed); !errors.Is(err, ErrInvalidSealed) {
		t.Fatalf("expected wrong key to fail, got %v", err)
	}
	if _, err := sealer.Open("JWT_SECRET", "plain"); !errors.Is(err, ErrInvalidSealed) {
		t.Fatalf("expected missing prefix to fail, got %v", err)
	}
	if _, err := sealer.Open("JWT_SECRET", Prefix+"!!"); !errors.Is(err, ErrInvalidSealed) {
		t.Fatalf("expected bad encoding to fail, got %v", err)
	}
}

func TestNewSealerRequiresLongKey(t *testing.T) {
	if _, err := NewSealer("short"); !errors.Is(err, ErrShortMasterKey) {
		t.Fatalf("expected ErrShortMasterKey, got %v", err)
	}
}
