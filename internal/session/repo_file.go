package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileRepository keeps one JSON document per session key under
// dataDir/sessions. Unreadable records load as absent.
type FileRepository struct {
	dir string
}

func NewFileRepository(dataDir string) (*FileRepository, error) {
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(key Key) string {
	return filepath.Join(r.dir, key.String()+".json")
}

func (r *FileRepository) Load(key Key) (*Session, error) {
	data, err := os.ReadFile(r.path(key))
	if err != nil {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, nil
	}
	return &sess, nil
}

func (r *FileRepository) Save(key Key, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(r.path(key), data, 0644)
}
