// Package addrstore persists the identifier of the last successfully
// connected sensor so later runs can skip device selection.
package addrstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// record is the on-disk shape of the store. SavedAt is informational only.
type record struct {
	Address string    `yaml:"address"`
	SavedAt time.Time `yaml:"saved_at"`
}

// Store remembers at most one device identifier, last-write-wins.
type Store struct {
	path   string
	logger *logrus.Logger
}

// New creates a store backed by the given file path.
func New(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{path: path, logger: logger}
}

// DefaultPath returns the conventional store location under the user's
// config directory, or a relative fallback when that cannot be resolved.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".hrtrack", "last_device.yaml")
	}
	return filepath.Join(dir, "hrtrack", "last_device.yaml")
}

// Load returns the remembered identifier. A missing file is a normal
// first-run condition; a corrupt or empty record is logged and treated the
// same way. Load never fails the caller.
func (s *Store) Load() (string, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("path", s.path).Warn("Failed to read address store")
		}
		return "", false
	}

	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Address store is corrupt, ignoring")
		return "", false
	}

	addr := strings.TrimSpace(rec.Address)
	if addr == "" {
		s.logger.WithField("path", s.path).Warn("Address store holds no address, ignoring")
		return "", false
	}
	return addr, true
}

// Save overwrites the remembered identifier. The record is written to a
// temporary file in the same directory and renamed into place, so a
// concurrent Load never observes a partially written value.
func (s *Store) Save(identifier string) error {
	if strings.TrimSpace(identifier) == "" {
		return fmt.Errorf("identifier is empty")
	}

	data, err := yaml.Marshal(record{
		Address: identifier,
		SavedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode address record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create address store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".last_device-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temporary address file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write address record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary address file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace address store: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"address": identifier,
		"path":    s.path,
	}).Debug("Remembered device address")
	return nil
}
