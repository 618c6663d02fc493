package task

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ExtractFileName pulls the last path segment from a URL, URL-decoded.
// Falls back to "download" when the URL has no usable segment.
func ExtractFileName(rawURL string) string {
	path := rawURL
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	// Drop the scheme and host so the host is never taken for a segment.
	if scheme := strings.Index(path, "://"); scheme >= 0 {
		rest := path[scheme+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			path = rest[slash:]
		} else {
			path = ""
		}
	}
	if slash := strings.LastIndexByte(path, '/'); slash >= 0 && slash+1 < len(path) {
		segment := path[slash+1:]
		if decoded, err := url.PathUnescape(segment); err == nil && decoded != "" {
			return sanitizeFileName(decoded)
		}
		return sanitizeFileName(segment)
	}
	return "download"
}

// ParseContentDisposition extracts a filename from a Content-Disposition
// header, preferring the RFC 5987 filename* parameter. Returns "" when
// no usable name is present.
func ParseContentDisposition(header string) string {
	// mime.ParseMediaType decodes filename* (RFC 5987) into "filename"
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if fn := params["filename"]; fn != "" {
			return sanitizeFileName(fn)
		}
	}

	// Fallback for headers ParseMediaType rejects
	if star := strings.Index(header, "filename*="); star >= 0 {
		rest := header[star+len("filename*="):]
		if sep := strings.Index(rest, "''"); sep >= 0 {
			encoded := rest[sep+2:]
			if semi := strings.IndexByte(encoded, ';'); semi >= 0 {
				encoded = encoded[:semi]
			}
			encoded = strings.Trim(encoded, " \t\"")
			if decoded, err := url.PathUnescape(encoded); err == nil && decoded != "" {
				return sanitizeFileName(decoded)
			}
		}
	}
	if fn := strings.Index(header, "filename="); fn >= 0 {
		rest := header[fn+len("filename="):]
		var name string
		if strings.HasPrefix(rest, "\"") {
			if end := strings.IndexByte(rest[1:], '"'); end >= 0 {
				name = rest[1 : 1+end]
			}
		} else {
			name = rest
			if semi := strings.IndexByte(name, ';'); semi >= 0 {
				name = name[:semi]
			}
			name = strings.TrimSpace(name)
		}
		if name != "" {
			return sanitizeFileName(name)
		}
	}
	return ""
}

// sanitizeFileName strips path separators and control characters so a
// server-supplied name cannot escape the save directory.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}

// ResolveConflict appends " (1)", " (2)", ... before the extension
// until the name is free in dir, giving up after 999.
func ResolveConflict(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for i := 1; i < 1000; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
	return name
}
