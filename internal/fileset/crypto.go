package fileset

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Record payloads are encrypted AES-256-CBC, one `hex(iv):hex(ciphertext)`
// string per layer. A user-keyed context wraps the user layer inside the
// system layer; keyless deployments store plaintext.

// deriveKey turns an arbitrary passphrase into an AES-256 key.
func deriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// EncryptRecord applies the user layer when userKey is set, then the
// system layer. An empty systemKey disables encryption entirely.
func EncryptRecord(plaintext, systemKey, userKey string) (string, error) {
	if systemKey == "" {
		return plaintext, nil
	}
	payload := plaintext
	if userKey != "" {
		inner, err := encryptLayer([]byte(payload), deriveKey(userKey))
		if err != nil {
			return "", fmt.Errorf("user layer: %w", err)
		}
		payload = inner
	}
	outer, err := encryptLayer([]byte(payload), deriveKey(systemKey))
	if err != nil {
		return "", fmt.Errorf("system layer: %w", err)
	}
	return outer, nil
}

// DecryptRecord inverts EncryptRecord: the system layer comes off first,
// then the user layer when the intermediate still has the encrypted
// shape. A legacy record written under only the system layer therefore
// reads transparently even when both keys are supplied. Payloads lacking
// the shape entirely are plaintext and returned as-is, colons included.
func DecryptRecord(payload, systemKey, userKey string) (string, error) {
	if systemKey == "" || !LooksEncrypted(payload) {
		return payload, nil
	}
	inner, err := decryptLayer(payload, deriveKey(systemKey))
	if err != nil {
		return "", fmt.Errorf("system layer: %w", err)
	}
	if userKey == "" || !LooksEncrypted(string(inner)) {
		return string(inner), nil
	}
	plain, err := decryptLayer(string(inner), deriveKey(userKey))
	if err != nil {
		return "", fmt.Errorf("user layer: %w", err)
	}
	return string(plain), nil
}

// LooksEncrypted reports whether payload has the iv:ciphertext layer
// shape: a hex-encoded 16-byte IV, a colon, and whole hex-encoded AES
// blocks. Plaintext containing colons fails the IV check.
func LooksEncrypted(payload string) bool {
	ivHex, dataHex, ok := strings.Cut(payload, ":")
	if !ok || len(ivHex) != aes.BlockSize*2 {
		return false
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return false
	}
	if len(dataHex) == 0 || len(dataHex)%(aes.BlockSize*2) != 0 {
		return false
	}
	if _, err := hex.DecodeString(dataHex); err != nil {
		return false
	}
	return true
}

func encryptLayer(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	padded := padPKCS7(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

func decryptLayer(payload string, key []byte) ([]byte, error) {
	ivHex, dataHex, ok := strings.Cut(payload, ":")
	if !ok {
		return nil, fmt.Errorf("missing iv separator")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv")
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return unpadPKCS7(out, aes.BlockSize)
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
