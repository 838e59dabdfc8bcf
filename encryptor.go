package hashring

import (
	"fmt"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Encryptor maps a string onto a position of the 32-bit hash space. It only
// needs to be stable within one process; positions must not be persisted and
// reloaded under a different Encryptor.
type Encryptor interface {
	Encrypt(origin string) uint32
}

// EncryptFunc adapts an ordinary function to the Encryptor interface.
type EncryptFunc func(origin string) uint32

func (f EncryptFunc) Encrypt(origin string) uint32 { return f(origin) }

// CRC32Hasher hashes with the IEEE CRC-32 polynomial. It is the default.
type CRC32Hasher struct{}

func NewCRC32Hasher() *CRC32Hasher {
	return &CRC32Hasher{}
}

func (c *CRC32Hasher) Encrypt(origin string) uint32 {
	return crc32.ChecksumIEEE([]byte(origin))
}

type MurmurHasher struct {
}

func NewMurmurHasher() *MurmurHasher {
	return &MurmurHasher{}
}

func (m *MurmurHasher) Encrypt(origin string) uint32 {
	hasher := murmur3.New32()
	_, _ = hasher.Write([]byte(origin))
	return hasher.Sum32()
}

// XXHasher folds the 64-bit xxhash digest down to its lower 32 bits.
type XXHasher struct{}

func NewXXHasher() *XXHasher {
	return &XXHasher{}
}

func (x *XXHasher) Encrypt(origin string) uint32 {
	return uint32(xxhash.Sum64String(origin))
}

// NewEncryptor resolves an Encryptor by name: "crc32", "murmur3" or "xxhash".
func NewEncryptor(name string) (Encryptor, error) {
	switch name {
	case "", "crc32":
		return NewCRC32Hasher(), nil
	case "murmur3":
		return NewMurmurHasher(), nil
	case "xxhash":
		return NewXXHasher(), nil
	default:
		return nil, fmt.Errorf("unknown hasher %q: %w", name, ErrInvalidArgument)
	}
}
