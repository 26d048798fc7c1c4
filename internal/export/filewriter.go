package export

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileWriter persists exported CSV for one session. Nothing reads the files
// back.
type FileWriter struct {
	dir string
	mu  sync.Mutex
}

func NewFileWriter(dir string) (*FileWriter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("csv dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	return &FileWriter{dir: dir}, nil
}

func (w *FileWriter) Dir() string {
	return w.dir
}

// Write stores csv as <sessionID>_<host>.csv and returns the full path.
func (w *FileWriter) Write(sessionID, targetURL, csv string) (string, error) {
	name := fmt.Sprintf("%s_%s.csv", sanitize(sessionID), hostPart(targetURL))
	full := filepath.Join(w.dir, name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.WriteFile(full, []byte(csv), 0o644); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return full, nil
}

func hostPart(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "page"
	}
	return sanitize(strings.TrimPrefix(u.Hostname(), "www."))
}

func sanitize(s string) string {
	unsafe := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	for _, ch := range unsafe {
		s = strings.ReplaceAll(s, ch, "_")
	}
	if s == "" {
		return "_"
	}
	return s
}
