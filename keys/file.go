// Package keys provides VAPID signing keys for the push delivery pipeline.
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
)

// FileSigner signs VAPID tokens with an ECDSA P-256 key stored on disk.
type FileSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte // uncompressed point
}

// NewFileSigner loads a VAPID key from a PEM file.
func NewFileSigner(privateKeyPath string) (*FileSigner, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing EC private key: %w", err)
	}

	return newFileSigner(privKey)
}

// NewFileSignerFromBase64 creates a FileSigner from a base64url-encoded
// 32-byte private scalar, the format VAPID tooling commonly exchanges.
func NewFileSignerFromBase64(privateKeyB64 string) (*FileSigner, error) {
	privKeyBytes, err := base64.RawURLEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privKeyBytes))
	}

	privKey := new(ecdsa.PrivateKey)
	privKey.Curve = elliptic.P256()
	privKey.D = new(big.Int).SetBytes(privKeyBytes)
	privKey.X, privKey.Y = privKey.Curve.ScalarBaseMult(privKeyBytes)

	return newFileSigner(privKey)
}

func newFileSigner(privKey *ecdsa.PrivateKey) (*FileSigner, error) {
	if privKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key must be P-256 curve")
	}
	pubKey, err := uncompressedPoint(&privKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &FileSigner{
		privateKey: privKey,
		publicKey:  pubKey,
	}, nil
}

// Sign signs the given digest and returns the signature in IEEE P1363 format.
func (s *FileSigner) Sign(_ context.Context, data []byte) ([]byte, error) {
	r, ss, err := ecdsa.Sign(rand.Reader, s.privateKey, data)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return p1363(r, ss), nil
}

// PublicKey returns the public key as an uncompressed P-256 point.
func (s *FileSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key in the base64url form served to
// devices as the application server key.
func (s *FileSigner) PublicKeyBase64() string {
	return base64.RawURLEncoding.EncodeToString(s.publicKey)
}

// GenerateKey generates a new P-256 key pair and saves it to a PEM file.
func GenerateKey(path string) (*FileSigner, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	privKeyBytes, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	block := &pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privKeyBytes,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("writing private key: %w", err)
	}

	return newFileSigner(privKey)
}

// GenerateKeyPair generates a new key pair and returns both halves in
// base64url form.
func GenerateKeyPair() (privateKeyB64, publicKeyB64 string, err error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}

	// Private scalar as a 32-byte big-endian integer.
	paddedPrivKey := make([]byte, 32)
	privKey.D.FillBytes(paddedPrivKey)

	pubKeyBytes, err := uncompressedPoint(&privKey.PublicKey)
	if err != nil {
		return "", "", err
	}

	return base64.RawURLEncoding.EncodeToString(paddedPrivKey),
		base64.RawURLEncoding.EncodeToString(pubKeyBytes),
		nil
}

// uncompressedPoint converts an ECDSA public key to the 65-byte uncompressed
// form required by the Web Push wire format.
func uncompressedPoint(pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}
	return ecdhPub.Bytes(), nil
}

// p1363 encodes an ECDSA signature as r || s, each padded to 32 bytes.
func p1363(r, s *big.Int) []byte {
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}
