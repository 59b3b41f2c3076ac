package delivery

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vecindario/pushagent"
	"golang.org/x/crypto/hkdf"
)

// encrypt applies RFC 8291 message encryption (aes128gcm content coding)
// using the subscription's p256dh and auth material. The returned bytes are
// the full coded body: salt || rs || idlen || keyid || ciphertext.
func encrypt(sub *pushagent.Subscription, plaintext []byte) ([]byte, error) {
	p256dhBytes, err := base64.RawURLEncoding.DecodeString(sub.Keys.P256dh)
	if err != nil {
		return nil, fmt.Errorf("decoding p256dh: %w", err)
	}
	authBytes, err := base64.RawURLEncoding.DecodeString(sub.Keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("decoding auth: %w", err)
	}

	deviceKey, err := ecdh.P256().NewPublicKey(p256dhBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing device public key: %w", err)
	}

	// Ephemeral sender key for this one message.
	senderKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating sender key: %w", err)
	}
	senderPub := senderKey.PublicKey().Bytes()

	sharedSecret, err := senderKey.ECDH(deviceKey)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	// IKM = HKDF(auth_secret, ecdh_secret, "WebPush: info" || keys)
	prkInfo := append([]byte("WebPush: info\x00"), deviceKey.Bytes()...)
	prkInfo = append(prkInfo, senderPub...)
	prk := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, authBytes, prkInfo), prk); err != nil {
		return nil, fmt.Errorf("deriving PRK: %w", err)
	}

	cek := make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, prk, salt, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, fmt.Errorf("deriving CEK: %w", err)
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(hkdf.New(sha256.New, prk, salt, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, fmt.Errorf("deriving nonce: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// 0x02 delimiter marks the last (only) record.
	ciphertext := gcm.Seal(nil, nonce, append(plaintext, 0x02), nil)

	// Coded body header: salt (16) || rs (4) || idlen (1) || keyid (65).
	recordSize := uint32(len(ciphertext) + 86)
	body := make([]byte, 0, 86+len(ciphertext))
	body = append(body, salt...)
	body = binary.BigEndian.AppendUint32(body, recordSize)
	body = append(body, byte(len(senderPub)))
	body = append(body, senderPub...)
	return append(body, ciphertext...), nil
}
