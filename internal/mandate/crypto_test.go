package mandate

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestSignRecoverRoundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	msg := ProofMessage(84532, testAgent, addr, "1000000000000000000", 1700000000, 7)
	sig, err := SignMessage(msg, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Errorf("signature format: %q", sig)
	}

	recovered, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != addr {
		t.Errorf("recovered %s, want %s", recovered, addr)
	}

	// A different message must not recover to the same signer.
	other := ProofMessage(84532, testAgent, addr, "2000000000000000000", 1700000000, 7)
	recovered, err = RecoverAddress(other, sig)
	if err == nil && recovered == addr {
		t.Error("tampered message recovered the original signer")
	}
}

func TestRecoverAddressRejectsMalformed(t *testing.T) {
	if _, err := RecoverAddress("msg", "not-hex"); err == nil {
		t.Error("expected error for non-hex signature")
	}
	if _, err := RecoverAddress("msg", "0xdeadbeef"); err == nil {
		t.Error("expected error for short signature")
	}
}

func TestDeriveIDDeterministic(t *testing.T) {
	a := DeriveID(testAgent, testPrincipal, 1700000000, 1)
	if a != DeriveID(testAgent, testPrincipal, 1700000000, 1) {
		t.Error("same parameters produced different IDs")
	}
	// Address case does not affect the ID.
	if a != DeriveID("0x"+strings.ToUpper(testAgent[2:]), testPrincipal, 1700000000, 1) {
		t.Error("address casing changed the ID")
	}
	if a == DeriveID(testAgent, testPrincipal, 1700000000, 2) {
		t.Error("different nonces produced the same ID")
	}
	if !strings.HasPrefix(a, "mnd_") || len(a) != 4+24 {
		t.Errorf("ID format: %q", a)
	}
}

func TestParseSigningKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	raw := crypto.FromECDSA(key)
	parsed, err := ParseSigningKey("0x" + hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if crypto.PubkeyToAddress(parsed.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("parsed key does not match original")
	}

	if _, err := ParseSigningKey("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestValidateMandateSignature(t *testing.T) {
	key, _ := crypto.GenerateKey()
	principal := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	a := NewAuthority(NewMemoryStore(), Config{SigningKey: key, ChainID: 84532})
	ctx := context.Background()

	m, err := a.CreateMandate(ctx, testAgent, principal, Scope{MaxAmount: "100"}, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Authorization == "" {
		t.Fatal("mandate issued without proof despite signing key")
	}

	report, err := a.ValidateMandateSignature(ctx, m)
	if err != nil {
		t.Fatalf("validate signature: %v", err)
	}
	if !report.Valid {
		t.Fatalf("valid proof reported invalid: %v", report.Errors)
	}
	if !strings.EqualFold(report.Signer, principal) {
		t.Errorf("signer = %s, want %s", report.Signer, principal)
	}
}

func TestValidateMandateSignatureItemizesErrors(t *testing.T) {
	a := newTestAuthority()
	m := &Mandate{
		ID:        "mnd_x",
		Agent:     "not-an-address",
		Principal: "also-bad",
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	report, err := a.ValidateMandateSignature(context.Background(), m)
	if err != nil {
		t.Fatalf("validate signature: %v", err)
	}
	if report.Valid {
		t.Fatal("broken mandate reported valid")
	}
	// Bad agent, bad principal, expired, missing proof: all reported at once.
	if len(report.Errors) != 4 {
		t.Errorf("got %d errors, want 4: %v", len(report.Errors), report.Errors)
	}
}

func TestSignerMismatchDetected(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	a := NewAuthority(NewMemoryStore(), Config{SigningKey: signerKey, ChainID: 84532})
	ctx := context.Background()

	// The proof is signed by signerKey, but the principal is a different
	// address, so verification must flag the mismatch.
	m, err := a.CreateMandate(ctx, testAgent, testPrincipal, Scope{MaxAmount: "100"}, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	report, err := a.ValidateMandateSignature(ctx, m)
	if err != nil {
		t.Fatalf("validate signature: %v", err)
	}
	if report.Valid {
		t.Error("mismatched signer reported valid")
	}
}
