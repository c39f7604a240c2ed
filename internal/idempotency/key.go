package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key hashes an operation name and its normalized arguments. The arguments
// are encoded as JSON; struct fields keep declaration order and map keys are
// sorted, so equal arguments always yield the same key.
func Key(operation string, normalized any) (string, error) {
	body, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to encode arguments for %s: %w", operation, err)
	}
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
