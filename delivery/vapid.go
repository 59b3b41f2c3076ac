package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// vapidHeader builds the VAPID Authorization header for a push request: an
// ES256 JWT over the endpoint's origin, signed through the configured
// Signer.
func (c *Client) vapidHeader(ctx context.Context, endpoint string) (string, error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	audience := parsedURL.Scheme + "://" + parsedURL.Host

	header := map[string]string{
		"typ": "JWT",
		"alg": "ES256",
	}
	claims := map[string]interface{}{
		"aud": audience,
		"exp": time.Now().Add(12 * time.Hour).Unix(),
		"sub": c.subject,
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshaling header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	hash := sha256.Sum256([]byte(signingInput))
	signature, err := c.signer.Sign(ctx, hash[:])
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}

	jwt := signingInput + "." + base64.RawURLEncoding.EncodeToString(signature)
	pubKeyB64 := base64.RawURLEncoding.EncodeToString(c.signer.PublicKey())

	return "vapid t=" + jwt + ", k=" + pubKeyB64, nil
}
