package fetch

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"trackweave/internal/catalog"
)

// decryptSegment reverses the AES-128-CBC transform applied per segment.
// When the manifest omits an explicit IV the segment index is used as a
// big-endian IV, matching common segmented-stream packaging.
func decryptSegment(data []byte, key catalog.DecryptionKey, segment catalog.SegmentRef) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("decrypt segment %d: %w", segment.Index, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("decrypt segment %d: ciphertext length %d not a block multiple", segment.Index, len(data))
	}

	iv := segment.IV
	if len(iv) == 0 {
		iv = make([]byte, aes.BlockSize)
		binary.BigEndian.PutUint64(iv[8:], uint64(segment.Index))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("decrypt segment %d: iv length %d", segment.Index, len(iv))
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return stripPadding(plain, segment.Index)
}

// stripPadding removes PKCS#7 padding, rejecting malformed tails so a wrong
// key surfaces as a decryption failure instead of corrupt media.
func stripPadding(plain []byte, index int) ([]byte, error) {
	if len(plain) == 0 {
		return nil, fmt.Errorf("decrypt segment %d: empty plaintext", index)
	}
	pad := int(plain[len(plain)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("decrypt segment %d: invalid padding %d", index, pad)
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("decrypt segment %d: corrupt padding", index)
		}
	}
	return plain[:len(plain)-pad], nil
}

// EncryptSegment applies the inverse transform. It exists for test fixtures
// and for writing already-fetched cleartext back through the same path.
func EncryptSegment(plain []byte, key catalog.DecryptionKey, segment catalog.SegmentRef) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := make([]byte, len(plain)+pad)
	copy(padded, plain)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	iv := segment.IV
	if len(iv) == 0 {
		iv = make([]byte, aes.BlockSize)
		binary.BigEndian.PutUint64(iv[8:], uint64(segment.Index))
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}
