package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyFile is an io.Writer appending to <dir>/<YYYY-MM-DD><ext>, switching
// files when the local date changes.
type DailyFile struct {
	mu   sync.Mutex
	dir  string
	ext  string
	now  func() time.Time
	day  string
	file *os.File
}

func NewDailyFile(dir, ext string, now func() time.Time) (*DailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if now == nil {
		now = time.Now
	}
	d := &DailyFile{dir: dir, ext: ext, now: now}
	if err := d.rotate(d.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}
	return d, nil
}

// FileName is the path the writer uses for t.
func (d *DailyFile) FileName(t time.Time) string {
	return filepath.Join(d.dir, t.Format(time.DateOnly)+d.ext)
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if day := d.now().Format(time.DateOnly); day != d.day {
		if err := d.rotate(day); err != nil {
			return 0, err
		}
	}
	return d.file.Write(p)
}

// rotate must be called with d.mu held (or before d is shared).
func (d *DailyFile) rotate(day string) error {
	path := filepath.Join(d.dir, day+d.ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	if d.file != nil {
		_ = d.file.Close()
	}
	d.file = f
	d.day = day
	return nil
}

func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
