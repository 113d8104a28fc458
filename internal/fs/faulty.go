package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault")

// Fault defines specific failure behavior for files whose path contains a pattern.
type Fault struct {
	FailWrites     bool // Fail writes once FailAfterBytes bytes were written through one handle.
	FailAfterBytes int64
	FailOnSync     bool
	FailOnClose    bool
	FailOnRename   bool // Fail renames whose target matches.
	Times          int  // Number of injected failures before the rule disarms. 0 means unlimited.
	Err            error
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]*rule
}

type rule struct {
	Fault
	fired int
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{FS: fsys, rules: make(map[string]*rule)}
}

// AddRule adds or replaces the fault injection rule for a file pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = &rule{Fault: fault}
}

// ClearRules removes every rule.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string]*rule)
}

// Fired returns how many failures the rule for pattern has injected.
func (f *FaultyFS) Fired(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rules[pattern]; ok {
		return r.fired
	}
	return 0
}

// match returns the rule with the longest pattern contained in name.
func (f *FaultyFS) match(name string) *rule {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *rule
	var bestLen int
	for pattern, r := range f.rules {
		if strings.Contains(name, pattern) && len(pattern) >= bestLen {
			best, bestLen = r, len(pattern)
		}
	}
	return best
}

// trip reports whether r should fire now and records the failure.
func (f *FaultyFS) trip(r *rule, enabled bool) error {
	if r == nil || !enabled {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Times > 0 && r.fired >= r.Times {
		return nil
	}
	r.fired++
	return r.Err
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f, name: name}, nil
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if r := f.match(newpath); r != nil {
		if err := f.trip(r, r.FailOnRename); err != nil {
			return err
		}
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Remove(name string) error              { return f.FS.Remove(name) }
func (f *FaultyFS) RemoveAll(path string) error           { return f.FS.RemoveAll(path) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}
func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }

// faultyFile resolves its rule on every operation so that rules added after
// the file was opened still apply.
type faultyFile struct {
	File
	fs      *FaultyFS
	name    string
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if r := ff.fs.match(ff.name); r != nil && r.FailWrites && ff.written+int64(len(p)) > r.FailAfterBytes {
		if err := ff.fs.trip(r, true); err != nil {
			return 0, err
		}
	}

	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if r := ff.fs.match(ff.name); r != nil {
		if err := ff.fs.trip(r, r.FailOnSync); err != nil {
			return err
		}
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if r := ff.fs.match(ff.name); r != nil {
		if err := ff.fs.trip(r, r.FailOnClose); err != nil {
			_ = ff.File.Close()
			return err
		}
	}
	return ff.File.Close()
}
