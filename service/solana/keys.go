package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ParseSecretKey decodes a treasury signing key from any of the three
// accepted encodings: a JSON number array, base58, or base64. All three must
// decode to the same raw ed25519 key bytes.
func ParseSecretKey(raw string) (solana.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("treasury secret key is empty")
	}

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var nums []int
		if err := json.Unmarshal([]byte(trimmed), &nums); err != nil {
			return nil, fmt.Errorf("treasury secret key JSON form must be an array of numbers: %w", err)
		}
		bytes := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("treasury secret key JSON array contains non-byte value %d", n)
			}
			bytes[i] = byte(n)
		}
		return validateKeyBytes(bytes)
	}

	if bytes, err := base58.Decode(trimmed); err == nil && len(bytes) == 64 {
		return validateKeyBytes(bytes)
	}

	if bytes, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return validateKeyBytes(bytes)
	}

	return nil, fmt.Errorf("treasury secret key must be base58, base64, or a JSON array")
}

func validateKeyBytes(b []byte) (solana.PrivateKey, error) {
	if len(b) != 64 {
		return nil, fmt.Errorf("treasury secret key must be 64 bytes, got %d", len(b))
	}
	return solana.PrivateKey(b), nil
}
