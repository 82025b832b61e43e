package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyMaterialSize is the number of random bytes written to a fresh key file.
const KeyMaterialSize = 32

// ErrKeyFileTooShort is returned when a key file holds less than
// KeyMaterialSize bytes of material.
var ErrKeyFileTooShort = errors.New("cryptox: key file too short")

// LoadOrCreateKeyFile loads key material from path, generating and persisting
// fresh material on first use. The boolean reports whether the file was
// created by this call.
//
// The file holds base64 encoded material and is written with 0600 permissions.
// Once created it is never rewritten; losing it makes every sealed blob
// unreadable.
func LoadOrCreateKeyFile(path string) ([]byte, bool, error) {
	path = filepath.Clean(path)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		material, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, false, fmt.Errorf("failed to decode key file: %w", err)
		}
		if len(material) < KeyMaterialSize {
			return nil, false, ErrKeyFileTooShort
		}
		return material, false, nil

	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("failed to read key file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("failed to create key directory: %w", err)
	}

	material := make([]byte, KeyMaterialSize)
	if _, err := rand.Read(material); err != nil {
		return nil, false, fmt.Errorf("failed to generate key material: %w", err)
	}

	// O_EXCL so two processes racing on first start cannot both win
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(base64.RawStdEncoding.EncodeToString(material)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, false, fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, false, fmt.Errorf("failed to close key file: %w", err)
	}

	return material, true, nil
}
