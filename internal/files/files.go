// Package files answers the filesystem questions panels ask: does a linked
// path exist, where is a pasted image, what is in a project directory.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"

	"github.com/asheshgoplani/panedeck/internal/logging"
)

// Entry is one item of a directory listing. Path is relative to the listed
// root and uses forward slashes.
type Entry struct {
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// skipped directories are never descended into.
var skipped = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// FS is the local filesystem.
type FS struct {
	imageDir string
	log      *slog.Logger
}

// New returns an FS resolving pasted images from imageDir.
func New(imageDir string) *FS {
	return &FS{imageDir: imageDir, log: logging.ForComponent(logging.CompWorkspace)}
}

// Exists reports whether path is an absolute path to a regular file.
func (f *FS) Exists(ctx context.Context, path string) bool {
	if ctx.Err() != nil || !filepath.IsAbs(path) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ImageLookup finds the pasted image referenced as "[Image #n]". The file is
// stored as image-<n>.<ext> and must sniff as an image.
func (f *FS) ImageLookup(ctx context.Context, n int) (string, bool) {
	if n <= 0 || f.imageDir == "" || ctx.Err() != nil {
		return "", false
	}
	matches, err := filepath.Glob(filepath.Join(f.imageDir, "image-"+strconv.Itoa(n)+".*"))
	if err != nil {
		return "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		mtype, err := mimetype.DetectFile(m)
		if err != nil {
			f.log.Debug("image_detect_failed", slog.String("path", m), slog.String("error", err.Error()))
			continue
		}
		if strings.HasPrefix(mtype.String(), "image/") {
			return m, true
		}
	}
	return "", false
}

// ListDir walks root up to depth levels (1 lists only direct children) and
// returns the entries sorted by path.
func (f *FS) ListDir(ctx context.Context, root string, depth int) ([]Entry, error) {
	if depth <= 0 {
		depth = 1
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("files: list %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("files: list %s: not a directory", root)
	}

	var (
		mu      sync.Mutex
		entries []Entry
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() && skipped[d.Name()] {
			return filepath.SkipDir
		}
		if strings.Count(rel, "/") >= depth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		e := Entry{Path: rel, IsDir: d.IsDir(), ModTime: info.ModTime()}
		if !e.IsDir {
			e.Size = info.Size()
		}
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		if d.IsDir() && strings.Count(rel, "/")+1 >= depth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipDir) {
		return nil, fmt.Errorf("files: list %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
