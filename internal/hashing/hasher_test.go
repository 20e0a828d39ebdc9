package hashing

import (
	"errors"
	"strings"
	"testing"
)

// testParams keeps argon2 cheap enough for the test suite.
var testParams = Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(testParams)

	encoded, err := h.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("hash %q missing argon2id prefix", encoded)
	}

	ok, err := h.VerifyPassword("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("correct password rejected")
	}

	ok, err = h.VerifyPassword("wrong password", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Error("wrong password accepted")
	}
}

func TestHashIsSalted(t *testing.T) {
	h := NewHasher(testParams)

	first, err := h.HashPassword("same password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	second, err := h.HashPassword("same password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if first == second {
		t.Error("two hashes of the same password are identical")
	}
}

func TestVerifyUsesEmbeddedParams(t *testing.T) {
	// A hash produced under one parameter set must verify under a hasher
	// configured with another.
	old := NewHasher(testParams)
	encoded, err := old.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	stronger := testParams
	stronger.Memory = 16 * 1024
	stronger.Iterations = 2
	current := NewHasher(stronger)

	ok, err := current.VerifyPassword("secret", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("hash with embedded params rejected after params changed")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := NewHasher(testParams)

	tests := []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1,p=1$onlyonesegment",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!notbase64!!$a2V5",
	}
	for _, encoded := range tests {
		if _, err := h.VerifyPassword("secret", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("VerifyPassword(%q) = %v, want ErrInvalidHash", encoded, err)
		}
	}
}

func TestVerifyIncompatibleVersion(t *testing.T) {
	h := NewHasher(testParams)
	encoded := "$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5"
	if _, err := h.VerifyPassword("secret", encoded); !errors.Is(err, ErrIncompatibleVersion) {
		t.Errorf("VerifyPassword = %v, want ErrIncompatibleVersion", err)
	}
}

func TestZeroParamsFallBackToDefaults(t *testing.T) {
	h := NewHasher(Params{})
	if h.params != DefaultParams {
		t.Errorf("params = %+v, want DefaultParams", h.params)
	}
}
