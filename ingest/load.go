package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ortelius/vulngraph/model"
	"gopkg.in/yaml.v2"
)

// recordFile is the wrapped form {"findings": [...]} accepted next to a bare list.
type recordFile struct {
	Findings []model.FindingRecord `json:"findings" yaml:"findings"`
}

// LoadRecords reads finding records from a .json, .jsonl/.ndjson or .yaml/.yml file.
func LoadRecords(path string) ([]model.FindingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var records []model.FindingRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		records, err = ParseYAML(data)
	default:
		records, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}

// ParseJSON accepts a JSON array, a {"findings": [...]} object, or a stream of objects
// (JSON Lines).
func ParseJSON(data []byte) ([]model.FindingRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []model.FindingRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var records []model.FindingRecord
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		var wrapped recordFile
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Findings != nil {
			records = append(records, wrapped.Findings...)
			continue
		}

		var rec model.FindingRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseYAML accepts a YAML list of records or a mapping with a findings list.
func ParseYAML(data []byte) ([]model.FindingRecord, error) {
	var records []model.FindingRecord
	if err := yaml.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapped recordFile
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Findings, nil
}
