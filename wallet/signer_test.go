package wallet

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A well-known throwaway key (hardhat account #0); never holds real funds.
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewSigner(t *testing.T) {
	s, err := NewSigner(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, testAddress, s.Address())

	// The 0x prefix is accepted too.
	s2, err := NewSigner("0x" + testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())

	_, err = NewSigner("")
	assert.Error(t, err)

	_, err = NewSigner("not-a-key")
	assert.Error(t, err)
}

func TestSignMessage(t *testing.T) {
	s, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	fullMessage, signature, err := s.SignMessage("HyperETH: API Key Registration", 1234567890)
	require.NoError(t, err)

	assert.Equal(t, "HyperETH: API Key Registration\nNonce: 1234567890", fullMessage)

	// 65 bytes, 0x-hex encoded.
	sig, err := hexutil.Decode(signature)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	// Recovery byte is in the Ethereum convention.
	require.True(t, sig[64] == 27 || sig[64] == 28, "v byte: %d", sig[64])

	// The signature must recover to the signer's address.
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(fullMessage)), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestSignOperations(t *testing.T) {
	s, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	full, _, err := s.SignRegistration(42)
	require.NoError(t, err)
	assert.Equal(t, "HyperETH: API Key Registration\nNonce: 42", full)

	full, _, err = s.SignList(42)
	require.NoError(t, err)
	assert.Equal(t, "HyperETH: List All API Keys\nNonce: 42", full)

	full, _, err = s.SignDelete("key-abc", 42)
	require.NoError(t, err)
	assert.Equal(t, "HyperETH: Delete API Key: key-abc\nNonce: 42", full)

	_, _, err = s.SignDelete("", 42)
	assert.Error(t, err)
}

func TestNonce(t *testing.T) {
	s, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	now := time.Now().UnixMilli()
	nonce := s.Nonce()

	assert.GreaterOrEqual(t, nonce, now)
	assert.Less(t, nonce, now+int64(time.Minute/time.Millisecond))

	// Hex keys are case-insensitive.
	_, err = NewSigner(strings.ToUpper(testPrivateKey))
	assert.NoError(t, err)
}
