package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store is a per-domain mapping of the latest record, backed by a JSON file
// and mirrored to a YAML file on every save. Writers are not coordinated.
type Store struct {
	jsonPath string
	yamlPath string
	records  map[string]Record
	logger   zerolog.Logger
}

// Open loads the JSON store at jsonPath. A missing or corrupt file yields an
// empty store.
func Open(jsonPath, yamlPath string, logger zerolog.Logger) *Store {
	return &Store{
		jsonPath: jsonPath,
		yamlPath: yamlPath,
		records:  Load(jsonPath, logger),
		logger:   logger,
	}
}

// Load reads a domain->record mapping; absent or unparsable files return an
// empty mapping.
func Load(path string, logger zerolog.Logger) map[string]Record {
	out := map[string]Record{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("read store, starting empty")
		}
		return out
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("corrupt store, starting empty")
		return map[string]Record{}
	}
	return out
}

// Put replaces the record for domain. Last write wins.
func (s *Store) Put(domain string, rec Record) {
	s.records[domain] = rec.normalize()
}

// Records returns the live mapping.
func (s *Store) Records() map[string]Record {
	return s.records
}

// Save writes both formats. Errors are returned as is; there is no atomic
// write guarantee.
func (s *Store) Save() error {
	if err := SaveJSON(s.jsonPath, s.records); err != nil {
		return err
	}
	if err := SaveYAML(s.yamlPath, s.records); err != nil {
		return err
	}
	s.logger.Info().
		Str("json", s.jsonPath).
		Str("yaml", s.yamlPath).
		Int("domains", len(s.records)).
		Msg("store saved")
	return nil
}

func SaveJSON(path string, records map[string]Record) error {
	data, err := json.MarshalIndent(normalizeAll(records), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func SaveYAML(path string, records map[string]Record) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(normalizeAll(records)); err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func normalizeAll(records map[string]Record) map[string]Record {
	out := make(map[string]Record, len(records))
	for k, v := range records {
		out[k] = v.normalize()
	}
	return out
}

// Domain returns the store key for rawURL: the lowercased hostname with any
// port and leading "www." removed. Bare hosts are accepted.
func Domain(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	host := ""
	if u, err := url.Parse(raw); err == nil {
		host = u.Hostname()
	}
	if host == "" {
		host = strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
		if i := strings.IndexAny(host, "/:?#"); i >= 0 {
			host = host[:i]
		}
	}
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}
