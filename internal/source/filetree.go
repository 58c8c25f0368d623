package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/querent-ai/querent/internal/domain"
)

// FileTreeSource polls a directory for files and emits one RawChunk per
// unseen file. Only the directory's top-level files are read;
// subdirectories are not descended into. It tracks processed files by name+size the way
// the teacher's cmd/ingest watcher tracked scraped JSON drops.
type FileTreeSource struct {
	root string

	mu        sync.Mutex
	processed map[string]bool
}

// NewFileTreeSource builds a watcher rooted at root.
func NewFileTreeSource(cfg domain.CollectorConfig) (Source, error) {
	if cfg.RootPath == "" {
		return nil, domain.NewValidationError("root_path", "", domain.ErrConfigInvalid)
	}
	return &FileTreeSource{root: cfg.RootPath, processed: make(map[string]bool)}, nil
}

func (s *FileTreeSource) Open(ctx context.Context) error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *FileTreeSource) Poll(ctx context.Context) ([]domain.RawChunk, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnreachable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var chunks []domain.RawChunk
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) == 0 || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%s:%d", e.Name(), info.Size())
		if s.processed[key] {
			continue
		}

		path := filepath.Join(s.root, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s.processed[key] = true
		chunks = append(chunks, domain.RawChunk{
			SourceID:    s.root,
			DocumentID:  e.Name(),
			DocSource:   "file_tree",
			Bytes:       data,
			ContentType: contentTypeOf(e.Name()),
		})
	}
	return chunks, nil
}

func contentTypeOf(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".txt", ".md":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// Checkpoint serializes the processed-file set for durable resume across
// pipeline restarts.
func (s *FileTreeSource) Checkpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(s.processed)
	return string(data)
}

func (s *FileTreeSource) Resume(token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal([]byte(token), &s.processed)
}

func (s *FileTreeSource) Close() error { return nil }
