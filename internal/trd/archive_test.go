package trd

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestArchiveName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Album", "Album.zip"},
		{"AC/DC: Live?", "AC_DC_ Live_.zip"},
		{"bundle.ZIP", "bundle.ZIP"},
		{"", "delivery.zip"},
	}
	for _, tt := range tests {
		if got := ArchiveName(tt.title); got != tt.want {
			t.Errorf("ArchiveName(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestEntryName(t *testing.T) {
	root := filepath.Join("srv", "downloads")
	if got := entryName(root, filepath.Join(root, "Album", "01.flac")); got != "Album/01.flac" {
		t.Errorf("entryName(inside) = %q, want Album/01.flac", got)
	}
	if got := entryName(root, filepath.Join("elsewhere", "02.flac")); got != "02.flac" {
		t.Errorf("entryName(outside) = %q, want 02.flac", got)
	}
}

func TestBuildArchive(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for _, name := range []string{"Album/01.flac", "Album/02.flac"} {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(p, []byte("audio "+name), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		paths = append(paths, p)
	}

	archiveDir := t.TempDir()
	path, cleanup, err := buildArchive(archiveDir, "Album", root, paths)
	if err != nil {
		t.Fatalf("buildArchive() error = %v", err)
	}
	if filepath.Base(path) != "Album.zip" {
		t.Errorf("archive name = %q, want Album.zip", filepath.Base(path))
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("zip.OpenReader() error = %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != "audio "+f.Name {
			t.Errorf("%s content = %q", f.Name, data)
		}
	}
	zr.Close()
	slices.Sort(names)
	if !slices.Equal(names, []string{"Album/01.flac", "Album/02.flac"}) {
		t.Errorf("archive entries = %v", names)
	}

	cleanup()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive still present after cleanup: %v", err)
	}
}

func TestBuildArchive_MissingFile(t *testing.T) {
	root := t.TempDir()
	_, _, err := buildArchive(t.TempDir(), "x", root, []string{filepath.Join(root, "gone.bin")})
	if !errors.Is(err, ErrArtifactMissing) {
		t.Errorf("buildArchive() error = %v, want ErrArtifactMissing", err)
	}
}
