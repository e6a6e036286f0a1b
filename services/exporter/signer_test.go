package exporter

import (
	"testing"

	"filippo.io/age"
)

func newTestIdentity(t *testing.T) *age.X25519Identity {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return identity
}

func TestSignerRoundTrip(t *testing.T) {
	identity := newTestIdentity(t)
	t.Setenv(envAgeSecretKey, identity.String())
	t.Setenv(envAgePublicKey, "")

	signer, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if signer.Recipient() != identity.Recipient().String() {
		t.Fatalf("recipient = %q, want %q", signer.Recipient(), identity.Recipient())
	}

	payload := []byte("resource history bundle")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := signer.Verify(payload, sig, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := signer.Verify([]byte("tampered"), sig, ""); err == nil {
		t.Fatal("verify accepted a tampered payload")
	}
}

func TestVerifyWithPublicKeyOnly(t *testing.T) {
	identity := newTestIdentity(t)
	t.Setenv(envAgeSecretKey, identity.String())
	t.Setenv(envAgePublicKey, "")

	signing, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	payload := []byte("verify me")
	sig, err := signing.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	t.Setenv(envAgeSecretKey, "")
	t.Setenv(envAgePublicKey, signing.PublicKeyBase64())

	verifier, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if err := verifier.Verify(payload, sig, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := verifier.Sign(payload); err == nil {
		t.Fatal("verifier without private key signed a payload")
	}
}

func TestVerifyRejectsUnexpectedKey(t *testing.T) {
	identity := newTestIdentity(t)
	t.Setenv(envAgeSecretKey, identity.String())
	t.Setenv(envAgePublicKey, "")

	signer, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	other := newTestIdentity(t)
	t.Setenv(envAgeSecretKey, other.String())
	otherSigner, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("new other signer: %v", err)
	}

	payload := []byte("payload")
	sig, err := otherSigner.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := signer.Verify(payload, sig, otherSigner.PublicKeyBase64()); err == nil {
		t.Fatal("verify accepted a manifest signed by an unexpected key")
	}
}

func TestNewSignerFromEnvRequiresKeys(t *testing.T) {
	t.Setenv(envAgeSecretKey, "")
	t.Setenv(envAgePublicKey, "")

	if _, err := NewSignerFromEnv(); err == nil {
		t.Fatal("signer initialised without any key material")
	}
}
