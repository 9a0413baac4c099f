package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the bcrypt input ceiling; both hashers enforce it.
const MaxPasswordBytes = 72

var errPasswordTooLong = fmt.Errorf("password exceeds %d bytes", MaxPasswordBytes)

// Hasher is a one-way salted password hash.
type Hasher interface {
	// Hash returns a self-describing digest of plain.
	Hash(plain string) (string, error)
	// Verify reports whether plain matches digest.
	Verify(plain, digest string) bool
	// NeedsRehash reports whether digest was produced with other parameters.
	NeedsRehash(digest string) bool
}

// BcryptHasher implements Hasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher. Out-of-range costs fall back to
// bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password must not be empty")
	}
	if len(plain) > MaxPasswordBytes {
		return "", errPasswordTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(digest), nil
}

func (h *BcryptHasher) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

func (h *BcryptHasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// Argon2Params are the argon2id cost parameters. Memory is in KiB.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// Argon2Hasher implements Hasher with argon2id and PHC-formatted digests.
type Argon2Hasher struct {
	params  Argon2Params
	keyLen  uint32
	saltLen int
}

// NewArgon2Hasher returns an argon2id hasher. Zero parameters take the
// defaults time=1, memory=64MiB, threads=4.
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	if params.Time == 0 {
		params.Time = 1
	}
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Threads == 0 {
		params.Threads = 4
	}
	return &Argon2Hasher{params: params, keyLen: 32, saltLen: 16}
}

func (h *Argon2Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password must not be empty")
	}
	if len(plain) > MaxPasswordBytes {
		return "", errPasswordTooLong
	}

	salt := make([]byte, h.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, h.params.Time, h.params.Memory, h.params.Threads, h.keyLen)

	// $argon2id$v=19$m=MEMORY,t=TIME,p=THREADS$SALT$KEY
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2Hasher) Verify(plain, digest string) bool {
	params, salt, expected, err := decodeArgon2(digest)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(plain), salt, params.Time, params.Memory, params.Threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1
}

func (h *Argon2Hasher) NeedsRehash(digest string) bool {
	params, _, _, err := decodeArgon2(digest)
	if err != nil {
		return true
	}
	return params != h.params
}

// maxArgon2Memory bounds the memory a stored digest can make Verify spend (1 GiB).
const maxArgon2Memory = 1024 * 1024

func decodeArgon2(digest string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, errors.New("invalid argon2id digest")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, errors.New("unsupported argon2 version")
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("parse argon2id params: %w", err)
	}
	if params.Time == 0 || params.Threads == 0 || params.Memory == 0 || params.Memory > maxArgon2Memory {
		return Argon2Params{}, nil, nil, errors.New("argon2id params out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Argon2Params{}, nil, nil, errors.New("decode key")
	}
	return params, salt, key, nil
}

// NewHasher selects a hasher by algorithm name ("bcrypt" or "argon2id").
func NewHasher(algorithm string, bcryptCost int, params Argon2Params) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", "bcrypt":
		return NewBcryptHasher(bcryptCost), nil
	case "argon2id":
		return NewArgon2Hasher(params), nil
	default:
		return nil, fmt.Errorf("unsupported password hash %q", algorithm)
	}
}
