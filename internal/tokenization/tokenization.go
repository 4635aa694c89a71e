/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tokenization

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values produced by Seal.
const sealedPrefix = "sealed:v1:"

// ErrNoKey is returned when sealing is attempted without a configured key.
var ErrNoKey = errors.New("no sealing key configured")

// TokenizationService seals short secrets such as registration passwords with AES-GCM.
type TokenizationService struct {
	key []byte
}

// NewTokenizationService uses a 16, 24 or 32 byte key as is and derives a 32 byte key
// from anything else. An empty key yields a service whose Seal fails with ErrNoKey.
func NewTokenizationService(encryptionKey string) *TokenizationService {
	if encryptionKey == "" {
		return &TokenizationService{}
	}
	key := []byte(encryptionKey)
	switch len(key) {
	case 16, 24, 32:
	default:
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	return &TokenizationService{key: key}
}

func (s *TokenizationService) gcm() (cipher.AEAD, error) {
	if len(s.key) == 0 {
		return nil, ErrNoKey
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts value and returns a prefixed base64 token.
func (s *TokenizationService) Seal(value string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a token produced by Seal.
func (s *TokenizationService) Open(token string) (string, error) {
	if !IsSealed(token) {
		return "", fmt.Errorf("not a sealed value")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, sealedPrefix))
	if err != nil {
		return "", err
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("token too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsSealed reports whether token carries the sealed prefix.
func IsSealed(token string) bool {
	return strings.HasPrefix(token, sealedPrefix)
}
