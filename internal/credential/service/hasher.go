package service

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen = 16
	keyLen  = 64

	// LegacyVersion marks hashes from before the iterated scheme existed:
	// a single sha512 round over salt+pepper+password. Still verifiable,
	// never produced for new passwords.
	LegacyVersion = 0

	// CurrentVersion is used for every new hash.
	CurrentVersion = 2
)

// iterationsByVersion keeps historical iteration counts verifiable after the
// current setting is raised. Never remove an entry.
var iterationsByVersion = map[int]int{
	1: 120000,
	2: 310000,
}

// Hashed is the stored shape of one password.
type Hashed struct {
	Salt             string
	Hash             string
	IterationVersion int
}

// Hasher computes salted, peppered, versioned password hashes.
type Hasher struct {
	pepper string
}

func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: pepper}
}

// Hash derives a new hash at CurrentVersion with a fresh salt.
func (h *Hasher) Hash(password string) (Hashed, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Hashed{}, err
	}

	digest := h.derive(password, salt, CurrentVersion)
	return Hashed{
		Salt:             base64.RawStdEncoding.EncodeToString(salt),
		Hash:             base64.RawStdEncoding.EncodeToString(digest),
		IterationVersion: CurrentVersion,
	}, nil
}

// Verify recomputes the hash with the stored salt and version and compares
// in constant time. Unknown versions never verify.
func (h *Hasher) Verify(password, saltB64, hashB64 string, iterationVersion int) bool {
	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false
	}
	if iterationVersion != LegacyVersion {
		if _, ok := iterationsByVersion[iterationVersion]; !ok {
			return false
		}
	}

	check := h.derive(password, salt, iterationVersion)
	return subtle.ConstantTimeCompare(expected, check) == 1
}

func (h *Hasher) derive(password string, salt []byte, iterationVersion int) []byte {
	peppered := []byte(h.pepper + password)

	if iterationVersion == LegacyVersion {
		sum := sha512.Sum512(append(append([]byte{}, salt...), peppered...))
		return sum[:]
	}

	return pbkdf2.Key(peppered, salt, iterationsByVersion[iterationVersion], keyLen, sha512.New)
}

// legacyHash produces a v0 digest. Tests use it to cover the fallback path.
func (h *Hasher) legacyHash(password string, salt []byte) []byte {
	return h.derive(password, salt, LegacyVersion)
}
