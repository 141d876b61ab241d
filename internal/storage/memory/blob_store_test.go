package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "files/pdf/a.gov.si/r.pdf_abc", "application/pdf", bytes.NewReader([]byte("content")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://files/pdf/a.gov.si/r.pdf_abc" {
		t.Fatalf("unexpected uri %s", uri)
	}
	data, ct, ok := store.Object("files/pdf/a.gov.si/r.pdf_abc")
	if !ok || string(data) != "content" || ct != "application/pdf" {
		t.Fatalf("unexpected object %q %q %v", data, ct, ok)
	}
	data[0] = 'C'
	again, _, _ := store.Object("files/pdf/a.gov.si/r.pdf_abc")
	if string(again) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestBlobStorePutObjectReadError(t *testing.T) {
	t.Parallel()

	if _, err := NewBlobStore().PutObject(context.Background(), "x", "", failingReader{}); err == nil {
		t.Fatal("expected read error")
	}
	if _, _, ok := NewBlobStore().Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
