package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/coinsacademy/topup-backend/pkg/config"
)

// ErrInvalidHash is returned for stored hashes that are not argon2id PHC strings.
var ErrInvalidHash = errors.New("invalid argon2id hash")

const (
	phcPrefix    = "$argon2id$"
	phcFormat    = "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"
	minPassBytes = 1
)

var b64 = base64.RawStdEncoding

// argonCost is the tunable part of an argon2id hash. Salt and key lengths
// are recovered from the encoded bytes so they are not part of the header.
type argonCost struct {
	memoryKB uint32
	passes   uint32
	lanes    uint8
	saltLen  int
	keyLen   int
}

func costFromConfig(cfg config.PasswordConfig) argonCost {
	return argonCost{
		memoryKB: uint32(bounded(cfg.ArgonMemoryKB, 8, 512*1024)),
		passes:   uint32(bounded(cfg.ArgonTime, 1, 10)),
		lanes:    uint8(bounded(cfg.ArgonParallelism, 1, 255)),
		saltLen:  bounded(cfg.ArgonSaltLen, 8, 64),
		keyLen:   bounded(cfg.ArgonKeyLen, 16, 64),
	}
}

func (c argonCost) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, c.passes, c.memoryKB, c.lanes, uint32(c.keyLen))
}

// HashPassword derives an argon2id hash and encodes it in PHC form.
func HashPassword(password string, cfg config.PasswordConfig) (string, error) {
	if len(password) < minPassBytes {
		return "", errors.New("password cannot be empty")
	}
	cost := costFromConfig(cfg)
	salt := make([]byte, cost.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := cost.derive(password, salt)
	return fmt.Sprintf(phcFormat, argon2.Version, cost.memoryKB, cost.passes, cost.lanes,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches the encoded hash.
func VerifyPassword(password, encoded string) (bool, error) {
	cost, salt, key, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, cost.derive(password, salt)) == 1, nil
}

// NeedsRehash is true when encoded was produced with weaker or different
// settings than cfg. Malformed hashes also report true.
func NeedsRehash(encoded string, cfg config.PasswordConfig) bool {
	stored, _, _, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	return stored != costFromConfig(cfg)
}

func parsePHC(encoded string) (argonCost, []byte, []byte, error) {
	if !strings.HasPrefix(encoded, phcPrefix) {
		return argonCost{}, nil, nil, ErrInvalidHash
	}
	segments := strings.Split(strings.TrimPrefix(encoded, phcPrefix), "$")
	if len(segments) != 4 {
		return argonCost{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(segments[0], "v=%d", &version); err != nil || version != argon2.Version {
		return argonCost{}, nil, nil, ErrInvalidHash
	}

	var (
		cost  argonCost
		lanes uint32
	)
	if _, err := fmt.Sscanf(segments[1], "m=%d,t=%d,p=%d", &cost.memoryKB, &cost.passes, &lanes); err != nil {
		return argonCost{}, nil, nil, ErrInvalidHash
	}
	if cost.memoryKB == 0 || cost.passes == 0 || lanes == 0 || lanes > 255 {
		return argonCost{}, nil, nil, ErrInvalidHash
	}
	cost.lanes = uint8(lanes)

	salt, err := b64.DecodeString(segments[2])
	if err != nil || len(salt) == 0 {
		return argonCost{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(segments[3])
	if err != nil || len(key) == 0 {
		return argonCost{}, nil, nil, ErrInvalidHash
	}
	cost.saltLen, cost.keyLen = len(salt), len(key)
	return cost, salt, key, nil
}

func bounded(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
