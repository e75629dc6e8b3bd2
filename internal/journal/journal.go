package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	currentName        = "drain.log"
	defaultMaxFileSize = 10 * 1024 * 1024 // 10MB
)

// Journal keeps an append-only, size-rotated record of drain reports for
// operator inspection. It is never read back by the pipeline; the staging
// queue remains the only durability mechanism.
type Journal struct {
	mu          sync.Mutex
	dir         string
	file        *os.File
	size        int64
	maxFileSize int64
}

func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, currentName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat journal file: %w", err)
	}
	return &Journal{
		dir:         dir,
		file:        f,
		size:        info.Size(),
		maxFileSize: defaultMaxFileSize,
	}, nil
}

type entry struct {
	At     time.Time   `json:"at"`
	Report interface{} `json:"report"`
}

// Append writes one report as a JSON line, rotating the file first when it
// has grown past the size limit.
func (j *Journal) Append(report interface{}) error {
	data, err := json.Marshal(entry{At: time.Now(), Report: report})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.size >= j.maxFileSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}
	n, err := j.file.Write(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	j.size += int64(n)
	return nil
}

// rotate must be called with the mutex held.
func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal file: %w", err)
	}

	currentPath := filepath.Join(j.dir, currentName)
	timestamp := time.Now().Format("20060102T150405")
	rotatedPath := filepath.Join(j.dir, fmt.Sprintf("drain-%s.log", timestamp))
	if err := os.Rename(currentPath, rotatedPath); err != nil {
		return fmt.Errorf("rename journal file: %w", err)
	}

	f, err := os.OpenFile(currentPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open new journal file: %w", err)
	}
	j.file = f
	j.size = 0
	return nil
}

// Cleanup removes rotated journal files older than the retention window.
func (j *Journal) Cleanup(retention time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	files, err := filepath.Glob(filepath.Join(j.dir, "drain-*.log"))
	if err != nil {
		return fmt.Errorf("list journal files: %w", err)
	}
	for _, file := range files {
		name := filepath.Base(file)
		// expected format: drain-20060102T150405.log
		if len(name) < 22 {
			continue
		}
		timeStr := name[6 : len(name)-4]
		t, err := time.Parse("20060102T150405", timeStr)
		if err != nil {
			continue // skip malformed names
		}
		if t.Before(cutoff) {
			if err := os.Remove(file); err != nil {
				return fmt.Errorf("remove old journal file %s: %w", file, err)
			}
		}
	}
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
