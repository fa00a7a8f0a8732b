package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/deckbridge/internal/errors"
)

const systemIDFile = ".system_id"

// GenerateSystemID returns a random identifier formatted XXXX-XXXX-XXXX.
func GenerateSystemID() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategorySystem).
			Context("operation", "generate-system-id").
			Build()
	}
	id := strings.ToUpper(hex.EncodeToString(raw))
	return id[0:4] + "-" + id[4:8] + "-" + id[8:12], nil
}

// LoadOrCreateSystemID reads the identifier persisted in dir, creating and
// saving a new one when it is missing or malformed. Both processes share
// it so their events group under one installation.
func LoadOrCreateSystemID(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("operation", "create-config-dir").
			Build()
	}

	idFile := filepath.Join(dir, systemIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); isValidSystemID(id) {
			return id, nil
		}
	}

	id, err := GenerateSystemID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(idFile, []byte(id), 0o600); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("operation", "save-system-id").
			Build()
	}
	return id, nil
}

func isValidSystemID(id string) bool {
	if len(id) != 14 || id[4] != '-' || id[9] != '-' {
		return false
	}
	_, err := hex.DecodeString(id[0:4] + id[5:9] + id[10:14])
	return err == nil
}
