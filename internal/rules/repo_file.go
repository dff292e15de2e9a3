package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileRepository keeps the whole rule document in a single JSON file
// (memory.json). An unreadable or corrupt file loads as an empty
// document; writes rewrite the whole file. Concurrent processes race
// last-write-wins; in-process access is serialized by the Store.
type FileRepository struct {
	path string
}

func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileRepository{path: filepath.Join(dataDir, "memory.json")}, nil
}

func (r *FileRepository) Load() (*Document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return emptyDocument(), nil
	}
	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return emptyDocument(), nil
	}
	if doc.Rules == nil {
		doc.Rules = map[string][]Rule{}
	}
	return doc, nil
}

func (r *FileRepository) Save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rule document: %w", err)
	}
	return os.WriteFile(r.path, data, 0644)
}
