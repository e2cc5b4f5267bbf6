package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// DataHash produces a stable hex sha256 over the canonical JSON form of a
// Secret's data. Sync logs use it to identify payloads without printing
// secret material.
func DataHash(data map[string][]byte) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
