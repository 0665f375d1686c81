package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	encryptionKeyEnv = "CREDENTIAL_ENCRYPTION_KEY"
	// EncryptedPrefix marks values that have passed through EncryptSecret.
	// Values without the prefix are treated as legacy plaintext on read.
	EncryptedPrefix = "enc:"
)

var (
	boxOnce sync.Once
	boxInst *secretBox
	boxErr  error
)

type secretBox struct {
	gcm cipher.AEAD
}

func getSecretBox() (*secretBox, error) {
	boxOnce.Do(func() {
		rawKey := strings.TrimSpace(os.Getenv(encryptionKeyEnv))
		if rawKey == "" {
			boxErr = errors.New("credential encryption key not set: " + encryptionKeyEnv)
			return
		}

		key := deriveKey(rawKey)

		block, err := aes.NewCipher(key)
		if err != nil {
			boxErr = fmt.Errorf("create cipher: %w", err)
			return
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			boxErr = fmt.Errorf("create gcm: %w", err)
			return
		}

		boxInst = &secretBox{gcm: gcm}
	})

	return boxInst, boxErr
}

func deriveKey(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		switch len(decoded) {
		case 16, 24, 32:
			return decoded
		}
	}

	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

func EncryptSecret(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	box, err := getSecretBox()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, box.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := box.gcm.Seal(nonce, nonce, []byte(plain), nil)

	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func DecryptSecret(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	box, err := getSecretBox()
	if err != nil {
		return "", err
	}

	nonceSize := box.gcm.NonceSize()
	if len(data) <= nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plain, err := box.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt ciphertext: %w", err)
	}

	return string(plain), nil
}

func IsSecretEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

func ResetSecretBoxForTests() {
	boxOnce = sync.Once{}
	boxInst = nil
	boxErr = nil
}
