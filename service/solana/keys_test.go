package solana

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyBytes() []byte {
	b := make([]byte, 64)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestParseSecretKey_AllEncodingsAgree(t *testing.T) {
	raw := testKeyBytes()

	nums := make([]int, len(raw))
	for i, b := range raw {
		nums[i] = int(b)
	}
	jsonForm, err := json.Marshal(nums)
	require.NoError(t, err)

	base58Form := solana.PrivateKey(raw).String()
	base64Form := base64.StdEncoding.EncodeToString(raw)

	fromJSON, err := ParseSecretKey(string(jsonForm))
	require.NoError(t, err)

	fromBase58, err := ParseSecretKey(base58Form)
	require.NoError(t, err)

	fromBase64, err := ParseSecretKey(base64Form)
	require.NoError(t, err)

	assert.Equal(t, []byte(fromJSON), []byte(fromBase58))
	assert.Equal(t, []byte(fromJSON), []byte(fromBase64))
	assert.Equal(t, raw, []byte(fromJSON))
}

func TestParseSecretKey_Base58GeneratedKeypair(t *testing.T) {
	priv := solana.NewWallet().PrivateKey
	key, err := ParseSecretKey(priv.String())
	require.NoError(t, err)
	assert.Equal(t, []byte(priv), []byte(key))
}

func TestParseSecretKey_TrimsWhitespace(t *testing.T) {
	raw := testKeyBytes()
	key, err := ParseSecretKey("  " + base64.StdEncoding.EncodeToString(raw) + "\n")
	require.NoError(t, err)
	assert.Equal(t, raw, []byte(key))
}

func TestParseSecretKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "!!not-a-key!!"},
		{"json not numbers", `["a","b"]`},
		{"json out of range", `[300,1,2]`},
		{"wrong length", "[1,2,3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSecretKey(tt.raw)
			assert.Error(t, err)
		})
	}
}
