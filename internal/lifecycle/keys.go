package lifecycle

import (
	"crypto/rand"
	"fmt"
	"time"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	for i := range b {
		b[i] = tokenAlphabet[int(b[i])%len(tokenAlphabet)]
	}
	return string(b), nil
}

// NewLicenseKey creates a license key in the format EA-<unix-ms>-<RANDOM9>.
func NewLicenseKey(now time.Time) (string, error) {
	suffix, err := randomToken(9)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EA-%d-%s", now.UnixMilli(), suffix), nil
}

// NewOrderID creates an order id in the format ORD-<unix-ms>-<RANDOM6>.
func NewOrderID(now time.Time) (string, error) {
	suffix, err := randomToken(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix), nil
}
