package store

import (
	"context"
	"testing"
)

func TestUploadDownload(t *testing.T) {
	fs, err := NewFS(t.TempDir(), "http://localhost:8080/")
	if err != nil {
		t.Fatal(err)
	}

	url, err := fs.Upload(context.Background(), "speech/abc123.wav", []byte("audio bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://localhost:8080/blobs/speech/abc123.wav" {
		t.Errorf("unexpected url %s", url)
	}

	data, err := fs.Download(context.Background(), "speech/abc123.wav")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio bytes" {
		t.Errorf("round-trip mismatch: %s", data)
	}
}

func TestDownloadMissing(t *testing.T) {
	fs, err := NewFS(t.TempDir(), "http://localhost:8080")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Download(context.Background(), "nope.wav"); err == nil {
		t.Error("expected error for missing blob")
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	fs, err := NewFS(t.TempDir(), "http://localhost:8080")
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"../etc/passwd", "a/../../b", ""} {
		if _, err := fs.Upload(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("key %q should be rejected", key)
		}
	}
}
