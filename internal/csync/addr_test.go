package csync

import (
	"strings"
	"testing"
)

func TestAddress(t *testing.T) {
	// Known SHA-256 of "hello world".
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	id, size, err := Address(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != want {
		t.Errorf("Address = %s, want %s", id, want)
	}
	if size != 11 {
		t.Errorf("size = %d, want 11", size)
	}

	if got := AddressBytes([]byte("hello world")); got != want {
		t.Errorf("AddressBytes = %s, want %s", got, want)
	}
}

func TestAddressEmpty(t *testing.T) {
	id, size, err := Address(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 0 {
		t.Errorf("size = %d, want 0", size)
	}
	if id != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("empty-input id = %s", id)
	}
}

func TestGuessMediaType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"readme.html", "text/html"},
		{"data.json", "application/json"},
		{"archive", MediaTypeRaw},
		{"mystery.zzznope", MediaTypeRaw},
	}

	for _, tt := range tests {
		got := GuessMediaType(tt.name)
		if got != tt.want {
			t.Errorf("GuessMediaType(%q) = %q, want %q", tt.name, got, tt.want)
		}
		if strings.Contains(got, ";") {
			t.Errorf("media type %q must not carry parameters", got)
		}
	}
}
