package ringbuf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBufferBasicWrite(t *testing.T) {
	rb := New(64)

	n, err := rb.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected n=5, got %d", n)
	}
	if got := string(rb.Bytes()); got != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
	if rb.Len() != 5 {
		t.Errorf("expected Len=5, got %d", rb.Len())
	}
}

func TestBufferWrapKeepsNewest(t *testing.T) {
	rb := New(10)

	_, _ = rb.Write([]byte("abcdefghij"))
	_, _ = rb.Write([]byte("12345"))

	if got := string(rb.Bytes()); got != "fghij12345" {
		t.Errorf("expected 'fghij12345', got %q", got)
	}
}

func TestBufferLargerThanCapacity(t *testing.T) {
	rb := New(5)
	_, _ = rb.Write([]byte("0123456789"))

	if got := string(rb.Bytes()); got != "56789" {
		t.Errorf("expected '56789', got %q", got)
	}
}

func TestBufferDrainEmpties(t *testing.T) {
	rb := New(8)
	_, _ = rb.Write([]byte("output"))

	if got := string(rb.Drain()); got != "output" {
		t.Fatalf("expected 'output', got %q", got)
	}
	if rb.Len() != 0 {
		t.Errorf("expected empty buffer after drain, got %d bytes", rb.Len())
	}

	_, _ = rb.Write([]byte("next"))
	if got := string(rb.Bytes()); got != "next" {
		t.Errorf("expected 'next', got %q", got)
	}
}

func TestBufferDumpToFile(t *testing.T) {
	rb := New(16)
	_, _ = rb.Write([]byte("crash context"))

	path := filepath.Join(t.TempDir(), "dump.log")
	if err := rb.DumpToFile(path); err != nil {
		t.Fatalf("DumpToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "crash context" {
		t.Errorf("unexpected dump content %q", string(data))
	}
}
