package hashring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC32Hasher(t *testing.T) {
	// Standard CRC-32/IEEE check value.
	require.Equal(t, uint32(0xCBF43926), NewCRC32Hasher().Encrypt("123456789"))
}

func TestNewEncryptor(t *testing.T) {
	tt := []struct {
		name   string
		expect Encryptor
	}{
		{name: "", expect: NewCRC32Hasher()},
		{name: "crc32", expect: NewCRC32Hasher()},
		{name: "murmur3", expect: NewMurmurHasher()},
		{name: "xxhash", expect: NewXXHasher()},
	}

	for _, tc := range tt {
		e, err := NewEncryptor(tc.name)
		require.NoError(t, err)
		require.IsType(t, tc.expect, e)

		// Stable within the process.
		require.Equal(t, e.Encrypt("some-key"), e.Encrypt("some-key"))
	}

	_, err := NewEncryptor("md5")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEncryptors_Differ(t *testing.T) {
	key := "192.168.1.1" + "1"
	crc := NewCRC32Hasher().Encrypt(key)
	require.NotEqual(t, crc, NewMurmurHasher().Encrypt(key))
	require.NotEqual(t, crc, NewXXHasher().Encrypt(key))
}
