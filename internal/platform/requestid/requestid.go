// Package requestid generates the X-Request-Id values that tie a kiosk
// request to its log lines and audit rows across service hops.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
)

func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
