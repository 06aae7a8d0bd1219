package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key builds a content addressed key from a function identity and its
// arguments. Arguments are JSON encoded so equal values give equal keys.
func Key(function string, args ...interface{}) (string, error) {
	h := sha256.New()
	h.Write([]byte(function))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("cache key for %s: %w", function, err)
		}
		h.Write([]byte{0})
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
