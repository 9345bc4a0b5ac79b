package security

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash equals plaintext")
	}
	if !h.Matches(hash, "correct horse") {
		t.Error("Matches = false for the right password")
	}
	if h.Matches(hash, "wrong") {
		t.Error("Matches = true for a wrong password")
	}
}

func TestNewPasswordHasher_Clamps(t *testing.T) {
	testCases := []struct {
		cost int
		want int
	}{
		{0, bcrypt.DefaultCost},
		{2, bcrypt.MinCost},
		{12, 12},
		{99, bcrypt.MaxCost},
	}
	for _, tc := range testCases {
		if got := NewPasswordHasher(tc.cost).Cost; got != tc.want {
			t.Errorf("NewPasswordHasher(%d).Cost = %d, want %d", tc.cost, got, tc.want)
		}
	}
}

func TestTokenHash(t *testing.T) {
	stored := HashToken("refresh-token")
	if len(stored) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(stored))
	}
	if !TokenHashEqual("refresh-token", stored) {
		t.Error("TokenHashEqual = false for the same token")
	}
	if TokenHashEqual("other-token", stored) {
		t.Error("TokenHashEqual = true for a different token")
	}
}

func TestSigningKey(t *testing.T) {
	generated, err := SigningKey("")
	if err != nil {
		t.Fatalf("SigningKey(\"\"): %v", err)
	}
	ec, ok := generated.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("generated key is %T, want *ecdsa.PrivateKey", generated)
	}

	der, err := x509.MarshalECPrivateKey(ec)
	if err != nil {
		t.Fatal(err)
	}
	inline := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
	if _, err := SigningKey(inline); err != nil {
		t.Errorf("SigningKey(inline PEM): %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte(inline), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := SigningKey(path); err != nil {
		t.Errorf("SigningKey(path): %v", err)
	}

	if _, err := ParsePrivateKey("-----BEGIN NOTHING-----"); err != ErrInvalidKey {
		t.Errorf("ParsePrivateKey(bad) = %v, want ErrInvalidKey", err)
	}
	if _, err := LoadPEM("  "); err != ErrInvalidKey {
		t.Errorf("LoadPEM(blank) = %v, want ErrInvalidKey", err)
	}
}
