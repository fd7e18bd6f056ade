package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
)

var encryptionKey []byte

// SetEncryptionKey sets the global key used to protect stored session
// token references. The key is padded/truncated to 32 bytes (AES-256).
func SetEncryptionKey(key string) error {
	finalKey := make([]byte, 32)
	copy(finalKey, []byte(key))
	encryptionKey = finalKey
	return nil
}

// Encrypt encrypts a plain text string using AES-GCM and returns a base64 encoded string.
// With no key configured the value passes through unchanged.
func Encrypt(plainText string) (string, error) {
	if len(encryptionKey) == 0 {
		return plainText, nil
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64 encoded string using AES-GCM. Values that do
// not decode as base64 are treated as legacy plain text and returned as is.
func Decrypt(cipherText string) (string, error) {
	if len(encryptionKey) == 0 {
		return cipherText, nil
	}

	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return cipherText, nil
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return cipherText, nil
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
