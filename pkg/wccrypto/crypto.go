// Package wccrypto implements the WalletConnect v1 payload encryption:
// AES-256-CBC with PKCS#7 padding, authenticated by HMAC-SHA256 over ciphertext || iv.
package wccrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"moff.io/wallet-bridge/pkg/errors"
)

const (
	// KeySize is the symmetric key length shared through the wc: URI.
	KeySize = 256 / 8
	// IVSize is the CBC initialisation vector length.
	IVSize = aes.BlockSize
)

var (
	ErrInvalidKey     = errors.New("invalid encryption key length")
	ErrInvalidIV      = errors.New("invalid iv length")
	ErrInvalidPadding = errors.New("invalid pkcs7 padding")
	ErrHmacMismatch   = errors.New("inconsistent payload hmac")
)

// Payload is the encrypted body carried in a relay envelope.
type Payload struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

func Aes256Encrypt(content, encryptionKey, iv []byte) ([]byte, error) {
	if len(encryptionKey) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidIV
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	plaintext := pkcs7Padding(content, aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

func Aes256Decrypt(cipherText, encryptionKey, iv []byte) ([]byte, error) {
	if len(encryptionKey) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidIV
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	plaintext := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, cipherText)
	return pkcs7Unpadding(plaintext, aes.BlockSize)
}

func pkcs7Padding(content []byte, blockSize int) []byte {
	padding := blockSize - len(content)%blockSize
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	out := make([]byte, 0, len(content)+padding)
	out = append(out, content...)
	return append(out, padText...)
}

func pkcs7Unpadding(content []byte, blockSize int) ([]byte, error) {
	n := len(content)
	if n == 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(content[n-1])
	if padding == 0 || padding > blockSize || padding > n {
		return nil, ErrInvalidPadding
	}
	for _, b := range content[n-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return content[:n-padding], nil
}

func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "read random bytes")
	}
	return b, nil
}

func HmacSha256(data, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}

// Seal encrypts plaintext under key with a fresh iv and authenticates it.
func Seal(plaintext, key []byte) (*Payload, error) {
	iv, err := GenerateRandomBytes(IVSize)
	if err != nil {
		return nil, err
	}
	data, err := Aes256Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	unsigned := make([]byte, 0, len(data)+len(iv))
	unsigned = append(unsigned, data...)
	unsigned = append(unsigned, iv...)
	return &Payload{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(HmacSha256(unsigned, key)),
	}, nil
}

// Open verifies the payload hmac and decrypts it.
func Open(p *Payload, key []byte) ([]byte, error) {
	iv, err := hex.DecodeString(p.IV)
	if err != nil {
		return nil, errors.Wrap(err, "decode iv hex")
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidIV
	}
	data, err := hex.DecodeString(p.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cipher hex")
	}
	mac, err := hex.DecodeString(p.Hmac)
	if err != nil {
		return nil, errors.Wrap(err, "decode hmac hex")
	}
	unsigned := make([]byte, 0, len(data)+len(iv))
	unsigned = append(unsigned, data...)
	unsigned = append(unsigned, iv...)
	if !hmac.Equal(mac, HmacSha256(unsigned, key)) {
		return nil, ErrHmacMismatch
	}
	plaintext, err := Aes256Decrypt(data, key, iv)
	if err != nil {
		return nil, errors.Wrap(err, "aes256 decrypt")
	}
	return plaintext, nil
}
