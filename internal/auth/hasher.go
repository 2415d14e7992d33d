// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // G505: selectable for compatibility with legacy credentials
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Supported key-derivation algorithms.
const (
	AlgorithmPBKDF2SHA256 = "pbkdf2-sha256"
	AlgorithmPBKDF2SHA512 = "pbkdf2-sha512"
	AlgorithmPBKDF2SHA1   = "pbkdf2-sha1"
	AlgorithmArgon2id     = "argon2id"
)

// Hashing defaults.
const (
	DefaultHashAlgorithm  = AlgorithmPBKDF2SHA256
	DefaultHashIterations = 100_000
	DefaultSaltLength     = 16
	MinSaltLength         = 8

	// argon2id uses Iterations as its time cost.
	argon2Memory     = 64 * 1024 // 64 MB
	argon2Threads    = 4
	argon2KeyLen     = 32
	maxArgon2Time    = 16
	maxStoredKeySize = 1024
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Wrapf(ErrValidation, "password cannot be empty")

// Credential is a salted password hash together with the parameters that
// produced it. Salt and Hash are hex-encoded.
type Credential struct {
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Hash       string `json:"hash"`
}

// HashParams configures a KDFHasher.
type HashParams struct {
	Algorithm  string
	Iterations int
	SaltLength int
}

// DefaultHashParams returns the default hashing parameters.
func DefaultHashParams() HashParams {
	return HashParams{
		Algorithm:  DefaultHashAlgorithm,
		Iterations: DefaultHashIterations,
		SaltLength: DefaultSaltLength,
	}
}

// Validate checks that the parameters describe a usable derivation.
func (p HashParams) Validate() error {
	if !isSupportedAlgorithm(p.Algorithm) {
		return oops.Code("AUTH_HASH_CONFIG_INVALID").
			With("algorithm", p.Algorithm).
			Errorf("unsupported hash algorithm %q", p.Algorithm)
	}
	if p.Iterations < 1 {
		return oops.Code("AUTH_HASH_CONFIG_INVALID").
			With("iterations", p.Iterations).
			Errorf("iterations must be positive")
	}
	if p.Algorithm == AlgorithmArgon2id && p.Iterations > maxArgon2Time {
		return oops.Code("AUTH_HASH_CONFIG_INVALID").
			With("iterations", p.Iterations).
			Errorf("argon2id time cost must be at most %d", maxArgon2Time)
	}
	if p.SaltLength < MinSaltLength {
		return oops.Code("AUTH_HASH_CONFIG_INVALID").
			With("salt_length", p.SaltLength).
			Errorf("salt length must be at least %d bytes", MinSaltLength)
	}
	return nil
}

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash derives a credential from the password using a fresh random salt.
	Hash(password string) (Credential, error)

	// Verify checks if the password matches the credential.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error
	// wrapping ErrCorruptCredential when the stored parameters are unusable.
	Verify(password string, cred Credential) (bool, error)
}

// KDFHasher implements PasswordHasher with PBKDF2 or argon2id.
type KDFHasher struct {
	params HashParams
}

// NewKDFHasher creates a KDFHasher with validated parameters.
func NewKDFHasher(params HashParams) (*KDFHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &KDFHasher{params: params}, nil
}

// Params returns the parameters new credentials are derived with.
func (h *KDFHasher) Params() HashParams {
	return h.params
}

// Hash derives a credential from the password.
func (h *KDFHasher) Hash(password string) (Credential, error) {
	if password == "" {
		return Credential{}, ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return Credential{}, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := derive(h.params.Algorithm, password, salt, h.params.Iterations, keyLength(h.params.Algorithm))

	return Credential{
		Algorithm:  h.params.Algorithm,
		Iterations: h.params.Iterations,
		Salt:       hex.EncodeToString(salt),
		Hash:       hex.EncodeToString(key),
	}, nil
}

// Verify recomputes the derivation with the stored salt and parameters.
func (h *KDFHasher) Verify(password string, cred Credential) (bool, error) {
	if !isSupportedAlgorithm(cred.Algorithm) {
		return false, corruptCredential("unsupported hash algorithm: %s", cred.Algorithm)
	}
	if cred.Iterations < 1 {
		return false, corruptCredential("invalid iteration count: %d", cred.Iterations)
	}
	if cred.Algorithm == AlgorithmArgon2id && cred.Iterations > maxArgon2Time {
		return false, corruptCredential("argon2id time cost %d out of range", cred.Iterations)
	}

	salt, err := hex.DecodeString(cred.Salt)
	if err != nil || len(salt) == 0 {
		return false, corruptCredential("invalid salt encoding")
	}

	expected, err := hex.DecodeString(cred.Hash)
	if err != nil || len(expected) == 0 {
		return false, corruptCredential("invalid hash encoding")
	}
	if len(expected) > maxStoredKeySize {
		return false, corruptCredential("invalid hash key length: %d", len(expected))
	}

	computed := derive(cred.Algorithm, password, salt, cred.Iterations, len(expected))

	// Constant-time comparison
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func derive(algorithm, password string, salt []byte, iterations, keyLen int) []byte {
	if algorithm == AlgorithmArgon2id {
		//nolint:gosec // G115: iterations and keyLen are range-checked by callers
		return argon2.IDKey([]byte(password), salt, uint32(iterations), argon2Memory, argon2Threads, uint32(keyLen))
	}
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, hashFunc(algorithm))
}

func hashFunc(algorithm string) func() hash.Hash {
	switch algorithm {
	case AlgorithmPBKDF2SHA512:
		return sha512.New
	case AlgorithmPBKDF2SHA1:
		return sha1.New
	default:
		return sha256.New
	}
}

func keyLength(algorithm string) int {
	switch algorithm {
	case AlgorithmPBKDF2SHA512:
		return sha512.Size
	case AlgorithmPBKDF2SHA1:
		return sha1.Size
	case AlgorithmArgon2id:
		return argon2KeyLen
	default:
		return sha256.Size
	}
}

func isSupportedAlgorithm(algorithm string) bool {
	switch algorithm {
	case AlgorithmPBKDF2SHA256, AlgorithmPBKDF2SHA512, AlgorithmPBKDF2SHA1, AlgorithmArgon2id:
		return true
	default:
		return false
	}
}

func corruptCredential(format string, args ...any) error {
	return oops.Code("AUTH_CORRUPT_CREDENTIAL").Wrapf(ErrCorruptCredential, format, args...)
}
