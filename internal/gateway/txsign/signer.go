package txsign

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

const digestPrefix = "sniper-gateway:v1"

type Signer struct {
	privKey *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(hexKey string) (*Signer, error) {
	clean := strings.TrimSpace(hexKey)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	clean = strings.TrimPrefix(clean, "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &Signer{privKey: key, address: addr}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignSwapAction binds the encoded action to a nonce and signs the resulting
// digest. The same action signed with the same nonce always yields the same
// signature bytes.
func (s *Signer) SignSwapAction(action SwapAction, nonce uint64) (Signature, error) {
	payload, err := EncodeSwapAction(action)
	if err != nil {
		return Signature{}, err
	}
	digest := actionDigest(payload, nonce)
	sig, err := crypto.Sign(digest, s.privKey)
	if err != nil {
		return Signature{}, err
	}
	return signatureFromBytes(sig)
}

func actionDigest(payload []byte, nonce uint64) []byte {
	buf := bytes.NewBuffer(payload)
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	buf.Write(nonceBytes[:])
	hash := crypto.Keccak256(buf.Bytes())
	return crypto.Keccak256([]byte(digestPrefix), hash)
}

// IdempotencyKey derives a stable key from the originating event so that
// rebuilding an order for the same opportunity never produces a second fill.
// It deliberately excludes fee and price fields, which change across retries.
func IdempotencyKey(asset, side, eventID string) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(3); err != nil {
		return "", err
	}
	if err := enc.EncodeString("asset"); err != nil {
		return "", err
	}
	if err := enc.EncodeString(asset); err != nil {
		return "", err
	}
	if err := enc.EncodeString("side"); err != nil {
		return "", err
	}
	if err := enc.EncodeString(side); err != nil {
		return "", err
	}
	if err := enc.EncodeString("event"); err != nil {
		return "", err
	}
	if err := enc.EncodeString(eventID); err != nil {
		return "", err
	}
	return hexutil.Encode(crypto.Keccak256(buf.Bytes())), nil
}

func signatureFromBytes(sig []byte) (Signature, error) {
	if len(sig) != 65 {
		return Signature{}, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	r := hexutil.Encode(sig[:32])
	s := hexutil.Encode(sig[32:64])
	v := int(sig[64]) + 27
	return Signature{R: r, S: s, V: v}, nil
}
