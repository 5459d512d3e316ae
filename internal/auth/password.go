package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidHash is returned for hashes not in the encoded argon2id format.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrHashVersion is returned for hashes made by another argon2 revision.
	ErrHashVersion = errors.New("incompatible argon2 version")
)

// Argon2Params is the cost of one argon2id derivation. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params targets well under a second on the instrument PC.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: uint8(min(runtime.NumCPU(), 4)),
		SaltLength:  16,
		KeyLength:   32,
	}
}

type PasswordHasher struct {
	params Argon2Params
}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{params: DefaultArgon2Params()}
}

// NewPasswordHasherWithCost uses the given memory in KiB and pass count.
func NewPasswordHasherWithCost(memory, iterations uint32) *PasswordHasher {
	p := DefaultArgon2Params()
	p.Memory = memory
	p.Iterations = iterations
	return &PasswordHasher{params: p}
}

// encodedHash is the parsed form of
// $argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<key>.
type encodedHash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func (e encodedHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		e.params.Memory, e.params.Iterations, e.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(e.salt),
		base64.RawStdEncoding.EncodeToString(e.key))
}

func parseHash(encoded string) (encodedHash, error) {
	var h encodedHash

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return h, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return h, fmt.Errorf("%w: v=%d", ErrHashVersion, version)
	}

	p := &h.params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return h, fmt.Errorf("%w: key: %v", ErrInvalidHash, err)
	}
	p.SaltLength = uint32(len(h.salt))
	p.KeyLength = uint32(len(h.key))
	return h, nil
}

// HashPassword returns the encoded argon2id hash of password with a fresh
// random salt.
func (ph *PasswordHasher) HashPassword(password string) (string, error) {
	h := encodedHash{params: ph.params, salt: make([]byte, ph.params.SaltLength)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	h.key = derive(password, h, ph.params.KeyLength)
	return h.String(), nil
}

// VerifyPassword checks password against an encoded hash, using the cost
// recorded in the hash.
func (ph *PasswordHasher) VerifyPassword(password, encoded string) (bool, error) {
	h, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.key, derive(password, h, uint32(len(h.key)))) == 1, nil
}

// NeedsRehash reports whether encoded was made with a lower cost than the
// hasher's.
func (ph *PasswordHasher) NeedsRehash(encoded string) bool {
	h, err := parseHash(encoded)
	if err != nil {
		return true
	}
	return h.params.Memory < ph.params.Memory ||
		h.params.Iterations < ph.params.Iterations ||
		h.params.KeyLength < ph.params.KeyLength
}

func derive(password string, h encodedHash, keyLength uint32) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, keyLength)
}
