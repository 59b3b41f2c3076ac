package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateKeyAndLoad(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "vapid.pem")

	generated, err := GenerateKey(keyPath)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if _, err := os.Stat(keyPath); err != nil {
		t.Fatalf("key file not written: %v", err)
	}

	loaded, err := NewFileSigner(keyPath)
	if err != nil {
		t.Fatalf("NewFileSigner() error = %v", err)
	}
	if loaded.PublicKeyBase64() != generated.PublicKeyBase64() {
		t.Error("loaded public key differs from generated one")
	}
	if len(loaded.PublicKey()) != 65 {
		t.Errorf("PublicKey() length = %d, want 65", len(loaded.PublicKey()))
	}
}

func TestFileSignerSign(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "vapid.pem")
	signer, err := GenerateKey(keyPath)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	digest := sha256.Sum256([]byte("header.claims"))
	sig, err := signer.Sign(context.Background(), digest[:])
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("Sign() signature length = %d, want 64", len(sig))
	}

	// The P1363 signature must verify against the signer's own key.
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	x := new(big.Int).SetBytes(signer.PublicKey()[1:33])
	y := new(big.Int).SetBytes(signer.PublicKey()[33:])
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	if !ecdsa.Verify(pub, digest[:], r, s) {
		t.Error("signature does not verify against public key")
	}
}

func TestNewFileSignerFromBase64(t *testing.T) {
	privB64, pubB64, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	signer, err := NewFileSignerFromBase64(privB64)
	if err != nil {
		t.Fatalf("NewFileSignerFromBase64() error = %v", err)
	}
	if signer.PublicKeyBase64() != pubB64 {
		t.Errorf("PublicKeyBase64() = %q, want %q", signer.PublicKeyBase64(), pubB64)
	}
}

func TestNewFileSignerFromBase64Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not base64", "!!!"},
		{"too short", base64.RawURLEncoding.EncodeToString(make([]byte, 16))},
		{"too long", base64.RawURLEncoding.EncodeToString(make([]byte, 48))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFileSignerFromBase64(tt.key); err == nil {
				t.Error("NewFileSignerFromBase64() expected error, got nil")
			}
		})
	}
}

func TestNewFileSignerMissingFile(t *testing.T) {
	if _, err := NewFileSigner(filepath.Join(t.TempDir(), "absent.pem")); err == nil {
		t.Error("NewFileSigner() expected error for missing file")
	}
}
