// Package password implements the Argon2id credential hashing used by
// account registration and login.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

// Hash returns the encoded Argon2id hash of password.
func Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

// Verify reports whether password matches the encoded Argon2id hash.
func Verify(password, encoded string) bool {
	p, ok := parse(encoded)
	if !ok {
		return false
	}
	check := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(p.hash, check) == 1
}

func parse(encoded string) (params, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return params{}, false
	}

	costs := strings.Split(parts[3], ",")
	if len(costs) != 3 {
		return params{}, false
	}
	memory, ok := parseCost(costs[0], "m=", 32)
	if !ok {
		return params{}, false
	}
	timeCost, ok := parseCost(costs[1], "t=", 32)
	if !ok {
		return params{}, false
	}
	threads, ok := parseCost(costs[2], "p=", 8)
	if !ok {
		return params{}, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params{}, false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params{}, false
	}

	return params{
		memory:  uint32(memory),
		time:    uint32(timeCost),
		threads: uint8(threads),
		salt:    salt,
		hash:    hash,
	}, true
}

func parseCost(raw, prefix string, bits int) (uint64, bool) {
	value, ok := strings.CutPrefix(raw, prefix)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseUint(value, 10, bits)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
