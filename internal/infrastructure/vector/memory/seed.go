package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

// SeedRecord is one pre-embedded catalog entry in a seed file.
type SeedRecord struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// LoadSeedFile upserts every record of a JSON array file and returns how many
// were loaded.
func (s *Store) LoadSeedFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, domain.WrapError(domain.ErrConfiguration, "read seed file", err)
	}
	return s.LoadSeed(raw)
}

func (s *Store) LoadSeed(raw []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var records []SeedRecord
	if err := dec.Decode(&records); err != nil {
		return 0, domain.WrapError(domain.ErrConfiguration, "decode seed", err)
	}
	for i, r := range records {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("seed-%d", i)
		}
		if err := s.Upsert(id, r.Vector, r.Metadata); err != nil {
			return i, err
		}
	}
	return len(records), nil
}
