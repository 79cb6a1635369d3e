package trd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jpillora/archive"
)

var unsafeNameChars = regexp.MustCompile(`[\\/:"*?<>|]+`)

// ArchiveName turns a torrent title into a safe zip file name.
func ArchiveName(title string) string {
	name := unsafeNameChars.ReplaceAllString(title, "_")
	if name == "" {
		name = "delivery"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	return name
}

// entryName is path relative to root, or its base name when it lies
// outside root.
func entryName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// buildArchive zips paths into a fresh directory under dir and returns the
// archive path and a cleanup func removing it. A missing source file
// yields an error wrapping ErrArtifactMissing.
func buildArchive(dir, title, root string, paths []string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("creating archive dir: %w", err)
	}
	tmp, err := os.MkdirTemp(dir, "delivery-")
	if err != nil {
		return "", nil, fmt.Errorf("creating archive temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	target := filepath.Join(tmp, ArchiveName(title))
	if err := writeArchive(target, root, paths); err != nil {
		cleanup()
		return "", nil, err
	}
	return target, cleanup, nil
}

func writeArchive(target, root string, paths []string) (retErr error) {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("closing archive: %w", err)
		}
	}()

	zw := archive.NewZipWriter(out)
	for _, p := range paths {
		if err := addFile(zw, entryName(root, p), p); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

func addFile(zw *archive.Archive, name, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrArtifactMissing)
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := zw.AddFile(name, f); err != nil {
		return fmt.Errorf("adding %s to archive: %w", name, err)
	}
	return nil
}
