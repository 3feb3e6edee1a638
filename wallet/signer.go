/*
Package wallet signs HyperETH gateway authentication messages with an
Ethereum private key.

API key management endpoints authenticate the caller by an EIP-191 personal
signature over a well-known message plus a millisecond-timestamp nonce; the
gateway recovers the wallet address from the signature.
*/
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/juju/errors"
)

// The messages the gateway expects for each API key operation. Each is
// signed together with a nonce, see Signer.SignMessage.
const (
	msgRegister  = "HyperETH: API Key Registration"
	msgList      = "HyperETH: List All API Keys"
	msgDeleteFmt = "HyperETH: Delete API Key: %s"
)

// Signer holds a wallet key and produces the personal signatures the gateway
// verifies.
type Signer struct {
	key     *ecdsa.PrivateKey
	address ethcommon.Address
}

// NewSigner creates a Signer from a hex private key, with or without the 0x
// prefix.
func NewSigner(privateKey string) (*Signer, error) {
	if privateKey == "" {
		return nil, errors.New("private key is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, errors.Annotatef(err, "invalid private key")
	}

	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the checksummed wallet address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Nonce returns a timestamp-based nonce in milliseconds.
func (s *Signer) Nonce() int64 {
	return time.Now().UnixMilli()
}

// SignMessage signs message with the nonce appended on its own line, and
// returns the full signed text together with the 0x-hex signature. The
// recovery byte follows the Ethereum convention (27/28).
func (s *Signer) SignMessage(message string, nonce int64) (fullMessage, signature string, err error) {
	fullMessage = fmt.Sprintf("%s\nNonce: %d", message, nonce)

	sig, err := crypto.Sign(accounts.TextHash([]byte(fullMessage)), s.key)
	if err != nil {
		return "", "", errors.Annotatef(err, "signing message")
	}
	sig[64] += 27

	return fullMessage, hexutil.Encode(sig), nil
}

// SignRegistration signs the API key registration message.
func (s *Signer) SignRegistration(nonce int64) (fullMessage, signature string, err error) {
	return s.SignMessage(msgRegister, nonce)
}

// SignList signs the API key list message.
func (s *Signer) SignList(nonce int64) (fullMessage, signature string, err error) {
	return s.SignMessage(msgList, nonce)
}

// SignDelete signs the deletion message for the given API key.
func (s *Signer) SignDelete(apiKey string, nonce int64) (fullMessage, signature string, err error) {
	if apiKey == "" {
		return "", "", errors.New("api key is required")
	}

	return s.SignMessage(fmt.Sprintf(msgDeleteFmt, apiKey), nonce)
}
