package csync

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URL scheme under which containers are addressed.
const Scheme = "csync"

// ContainerURL is a parsed container address:
//
//	csync://<address>[/<path>][?v=<version-id>]
//
// Path addresses a sub-tree or single entry within the map ("/" when
// omitted). Version pins resolution to a specific immutable version;
// empty resolves to latest.
type ContainerURL struct {
	Address string
	Path    string
	Version string
}

// ParseURL parses a container URL string.
func ParseURL(raw string) (*ContainerURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid container URL %q: %w", raw, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("invalid container URL %q: expected scheme %q", raw, Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid container URL %q: missing container address", raw)
	}

	path := "/"
	if u.Path != "" {
		path = NormalizePath(u.Path)
	}

	return &ContainerURL{
		Address: u.Host,
		Path:    path,
		Version: u.Query().Get("v"),
	}, nil
}

// IsContainerURL reports whether raw looks like a container URL rather than
// a local filesystem path.
func IsContainerURL(raw string) bool {
	return strings.HasPrefix(raw, Scheme+"://")
}

// String renders the URL back to its canonical form.
func (u *ContainerURL) String() string {
	s := fmt.Sprintf("%s://%s", Scheme, u.Address)
	if u.Path != "" && u.Path != "/" {
		s += u.Path
	}
	if u.Version != "" {
		s += "?v=" + u.Version
	}
	return s
}

// WithVersion returns a copy of the URL pinned to the given version id.
func (u *ContainerURL) WithVersion(versionID string) *ContainerURL {
	out := *u
	out.Version = versionID
	return &out
}
