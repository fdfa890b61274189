package csync

import (
	"mime"
	"path"
	"strings"
)

// GuessMediaType guesses a file's media type from its extension, falling
// back to MediaTypeRaw when the extension is unknown. Any charset parameter
// added by the mime package is stripped so entries store a bare type.
func GuessMediaType(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return MediaTypeRaw
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		return MediaTypeRaw
	}
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt
}
