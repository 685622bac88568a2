package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteReadExists(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key, err := store.Write(context.Background(), "generated_videos/job-1/a.mp4", []byte("mp4-bytes"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "generated_videos/job-1/a.mp4" {
		t.Fatalf("key = %q", key)
	}
	if !store.Exists(key) {
		t.Fatalf("Exists(%q) = false after write", key)
	}
	data, err := store.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "mp4-bytes" {
		t.Fatalf("data = %q", data)
	}
	if store.Exists("generated_videos/job-1/missing.mp4") {
		t.Fatalf("Exists reported a missing file")
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "a/b.png", want: "a/b.png"},
		{key: "/a/b.png", want: "a/b.png"},
		{key: "./a/b.png", want: "a/b.png"},
		{key: "a//b.png", want: "a/b.png"},
		{key: "a\\b.png", want: "a/b.png"},
		{key: "../escape.png", wantErr: true},
		{key: "a/../../escape.png", wantErr: true},
		{key: "  ", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sanitizeKey(tc.key)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) = %q, want error", tc.key, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("sanitizeKey(%q): %v", tc.key, err)
		}
		if got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestWriteRefusesEscapingKeys(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(filepath.Join(base, "assets"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Write(context.Background(), "../outside.txt", []byte("x")); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
	if _, statErr := os.Stat(filepath.Join(base, "outside.txt")); statErr == nil {
		t.Fatalf("file escaped the storage root")
	}
}
