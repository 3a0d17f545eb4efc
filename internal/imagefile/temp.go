package imagefile

import (
	"errors"
	"io/fs"
	"os"
)

// TempSet owns the temporary files of one script run.
type TempSet struct {
	dir   string
	paths []string
}

// NewTempSet creates files under dir, or the OS temp dir when dir is empty.
func NewTempSet(dir string) *TempSet { return &TempSet{dir: dir} }

// Create makes a new empty file named <key>_*.tif and records it for Cleanup.
func (s *TempSet) Create(key string) (string, error) {
	f, err := os.CreateTemp(s.dir, key+"_*.tif")
	if err != nil {
		return "", err
	}
	s.paths = append(s.paths, f.Name())
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// Paths lists the files created so far.
func (s *TempSet) Paths() []string { return append([]string(nil), s.paths...) }

// Cleanup removes every recorded file. Files that are already gone are not
// an error; other failures are joined and returned for logging only.
func (s *TempSet) Cleanup() error {
	var errs []error
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.paths = nil
	return errors.Join(errs...)
}
