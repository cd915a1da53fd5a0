package mandate

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// proofDomain is the versioned domain separator for authorization proofs.
// Bump the version whenever the signed field set changes.
const proofDomain = "AgentGate-Mandate-v1"

// ProofMessage builds the canonical message signed by the principal when a
// mandate is issued. Covers (agent, principal, maxAmount, expiry, nonce)
// under the versioned domain separator.
func ProofMessage(chainID int64, agent, principal, maxAmount string, expiryUnix int64, nonce uint64) string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%d|%d",
		proofDomain,
		chainID,
		strings.ToLower(agent),
		strings.ToLower(principal),
		maxAmount,
		expiryUnix,
		nonce,
	)
}

// DeriveID computes the deterministic mandate identifier from its issuance
// parameters. Same inputs always produce the same ID.
func DeriveID(agent, principal string, expiryUnix int64, nonce uint64) string {
	preimage := fmt.Sprintf("%s|%s|%d|%d",
		strings.ToLower(agent), strings.ToLower(principal), expiryUnix, nonce)
	sum := crypto.Keccak256([]byte(preimage))
	return "mnd_" + hex.EncodeToString(sum[:12])
}

// HashMessage creates an Ethereum signed message hash.
// The message is prefixed with "\x19Ethereum Signed Message:\n{len}" per EIP-191.
func HashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// SignMessage signs the EIP-191 hash of message with the given key and
// returns the hex-encoded 65-byte signature with v in {27, 28}.
func SignMessage(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(HashMessage(message), key)
	if err != nil {
		return "", fmt.Errorf("sign mandate proof: %w", err)
	}
	// Normalize v to the Ethereum convention.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress recovers the signer's address from a message and signature.
// signature should be hex-encoded, 65 bytes (r[32] + s[32] + v[1]).
func RecoverAddress(message string, signatureHex string) (string, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")

	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}

	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	// Ethereum signatures have v = 27 or 28, but Ecrecover expects 0 or 1.
	if signature[64] >= 27 {
		signature[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(HashMessage(message), signature)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}

	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// ParseSigningKey decodes a hex-encoded ECDSA private key, accepting an
// optional 0x prefix.
func ParseSigningKey(hexKey string) (*ecdsa.PrivateKey, error) {
	k := strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(k)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return key, nil
}

// ValidAddress reports whether s looks like a checksummable hex address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}
