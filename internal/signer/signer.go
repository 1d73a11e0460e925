// Package signer attributes audit submissions to a workstation key.
//
// Signing scheme:
//  1. payload_hash = hex(SHA256(payload_bytes))
//  2. signature_input = payload_hash + str(timestamp_ns) + case_id
//  3. Sign Keccak256(signature_input) with secp256k1, recoverable form
//  4. Encode r(32) || s(32) || v(1) as base64
//
// The audit service recovers the signer address from the signature and
// compares it with the X-KPG-Signer header.
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces recoverable secp256k1 signatures over request bodies.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
}

// New creates a Signer from a hex-encoded private key (0x prefix optional).
func New(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid hex key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signer: key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Address returns the checksummed address derived from the key.
func (s *Signer) Address() string { return s.address }

// Sign returns (base64-encoded signature, timestamp in nanoseconds).
func (s *Signer) Sign(payload []byte, caseID string) (sig string, tsNano int64) {
	ts := time.Now().UnixNano()
	raw, err := crypto.Sign(digest(payload, ts, caseID), s.key)
	if err != nil {
		// crypto.Sign only fails on a malformed digest length.
		panic(fmt.Sprintf("signer: sign: %v", err))
	}
	return base64.StdEncoding.EncodeToString(raw), ts
}

// Recover returns the address that produced sig over (payload, ts, caseID).
func Recover(payload []byte, tsNano int64, caseID, sig string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("signer: decode signature: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return "", fmt.Errorf("signer: signature must be %d bytes, got %d", crypto.SignatureLength, len(raw))
	}
	pub, err := crypto.SigToPub(digest(payload, tsNano, caseID), raw)
	if err != nil {
		return "", fmt.Errorf("signer: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func digest(payload []byte, tsNano int64, caseID string) []byte {
	payloadHash := sha256.Sum256(payload)
	input := hex.EncodeToString(payloadHash[:]) + strconv.FormatInt(tsNano, 10) + caseID
	return crypto.Keccak256([]byte(input))
}
