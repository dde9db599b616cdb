package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

// LoadDir reads every *.json file in dir. A file holds either one record
// object or an array of them. Files that cannot be decoded are reported as
// *domain.RecordError and skipped; only an unreadable directory fails the
// call.
func LoadDir(dir string) ([]domain.RawRecord, []error, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: list %s: %w", dir, err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, nil, fmt.Errorf("ingest: open %s: %w", dir, err)
	}
	sort.Strings(paths)

	var (
		records []domain.RawRecord
		bad     []error
	)
	for i, p := range paths {
		recs, err := loadFile(p)
		if err != nil {
			bad = append(bad, &domain.RecordError{Index: i, Source: filepath.Base(p), Reason: "undecodable file", Err: err})
			continue
		}
		records = append(records, recs...)
	}
	return records, bad, nil
}

var errEmptyFile = errors.New("file is empty")

func loadFile(path string) ([]domain.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errEmptyFile
	}
	if data[0] == '[' {
		var recs []domain.RawRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, err
		}
		return recs, nil
	}
	var rec domain.RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return []domain.RawRecord{rec}, nil
}
