package apikey

import (
	"testing"
	"time"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	full, prefix, hash, err := Generate("test")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	env, parsedPrefix, secret, err := Parse(full)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env != "test" {
		t.Fatalf("expected env test, got %q", env)
	}
	if parsedPrefix != prefix {
		t.Fatalf("prefix mismatch: %q vs %q", parsedPrefix, prefix)
	}
	if Hash(parsedPrefix, secret) != hash {
		t.Fatalf("hash mismatch after round trip")
	}
}

func TestParseRejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{"", "nk_test_abc", "ck_test_abc.secret", "nk_test.secret", "junk"} {
		if _, _, _, err := Parse(key); err == nil {
			t.Fatalf("expected error for %q", key)
		}
	}
}

func TestVerifyNotifier(t *testing.T) {
	full, prefix, hash, err := Generate("test")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, _, secret, err := Parse(full)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_ = prefix
	_ = secret

	record := Record{ID: "key-1", NotifierID: "nft.collection", KeyHash: hash}

	notifier, err := VerifyNotifier(full, record, "10.0.0.1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if notifier != "nft.collection" {
		t.Fatalf("expected notifier nft.collection, got %q", notifier)
	}
}

func TestVerifyRevokedKey(t *testing.T) {
	full, _, hash, err := Generate("test")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	revoked := time.Now()
	record := Record{ID: "key-1", NotifierID: "nft.collection", KeyHash: hash, RevokedAt: &revoked}

	if err := Verify(full, record, ""); err != ErrRevokedKey {
		t.Fatalf("expected ErrRevokedKey, got %v", err)
	}
}

func TestIPAllowed(t *testing.T) {
	whitelist := []string{"10.0.0.1", "192.168.0.0/16"}
	if err := ValidateIPWhitelist(whitelist); err != nil {
		t.Fatalf("validate whitelist: %v", err)
	}
	if !IPAllowed("10.0.0.1", whitelist) {
		t.Fatalf("expected exact ip allowed")
	}
	if !IPAllowed("192.168.4.7", whitelist) {
		t.Fatalf("expected cidr ip allowed")
	}
	if IPAllowed("172.16.0.1", whitelist) {
		t.Fatalf("expected ip outside whitelist denied")
	}
	if !IPAllowed("anything", nil) {
		t.Fatalf("empty whitelist should allow all")
	}
}
