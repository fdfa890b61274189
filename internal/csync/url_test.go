package csync

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ContainerURL
		wantErr bool
	}{
		{
			name: "address only",
			raw:  "csync://abc123",
			want: ContainerURL{Address: "abc123", Path: "/"},
		},
		{
			name: "with path",
			raw:  "csync://abc123/docs/readme.md",
			want: ContainerURL{Address: "abc123", Path: "/docs/readme.md"},
		},
		{
			name: "with version pin",
			raw:  "csync://abc123/docs?v=deadbeef",
			want: ContainerURL{Address: "abc123", Path: "/docs", Version: "deadbeef"},
		},
		{
			name: "trailing slash normalized",
			raw:  "csync://abc123/docs/",
			want: ContainerURL{Address: "abc123", Path: "/docs"},
		},
		{
			name:    "wrong scheme",
			raw:     "http://abc123/docs",
			wantErr: true,
		},
		{
			name:    "missing address",
			raw:     "csync:///docs",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != tt.want {
				t.Errorf("ParseURL(%q) = %+v, want %+v", tt.raw, *got, tt.want)
			}
		})
	}
}

func TestURLRoundTrip(t *testing.T) {
	tests := []string{
		"csync://abc123",
		"csync://abc123/docs/readme.md",
		"csync://abc123/docs?v=deadbeef",
	}

	for _, raw := range tests {
		u, err := ParseURL(raw)
		if err != nil {
			t.Fatalf("ParseURL(%q): %v", raw, err)
		}
		if got := u.String(); got != raw {
			t.Errorf("round trip %q -> %q", raw, got)
		}
	}
}

func TestIsContainerURL(t *testing.T) {
	if !IsContainerURL("csync://abc123/a.txt") {
		t.Error("expected container URL to be recognized")
	}
	if IsContainerURL("/local/path") {
		t.Error("local path should not be a container URL")
	}
	if IsContainerURL("http://example.com") {
		t.Error("http URL should not be a container URL")
	}
}

func TestWithVersion(t *testing.T) {
	u, err := ParseURL("csync://abc123/docs")
	if err != nil {
		t.Fatal(err)
	}
	pinned := u.WithVersion("v1")
	if pinned.Version != "v1" {
		t.Errorf("expected version v1, got %q", pinned.Version)
	}
	if u.Version != "" {
		t.Error("WithVersion should not mutate the receiver")
	}
}
