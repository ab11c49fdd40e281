// Package filename implements the Filename Resolver (spec.md §4.5): picks
// the on-disk name for a Download from response headers, falls back to the
// URL, and reserves a collision-free slot by creating the temp file.
//
// Grounded in danzo's getFileInfo (internal/downloaders/http/initial.go),
// generalized to the RFC 5987 filename* / flat filename precedence and the
// "(1)" collision-suffix scheme spec.md requires instead of danzo's
// overwrite-by-default behavior.
package filename

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var extByContentType = map[string]string{
	"application/zip":              ".zip",
	"application/x-7z-compressed":  ".7z",
	"application/x-rar-compressed": ".rar",
	"application/gzip":             ".gz",
	"application/x-tar":            ".tar",
	"application/pdf":              ".pdf",
	"application/json":             ".json",
	"application/octet-stream":     ".bin",
	"text/plain":                   ".txt",
	"image/png":                    ".png",
	"image/jpeg":                   ".jpg",
	"video/mp4":                    ".mp4",
}

// Resolve picks final_filename per spec.md §4.5 steps 1-4, without touching
// the filesystem.
func Resolve(contentDisposition, finalURL, contentType string) string {
	if name := fromContentDisposition(contentDisposition); name != "" {
		return sanitize(name)
	}
	if name := fromURLPath(finalURL); name != "" {
		return sanitize(ensureExt(name, contentType))
	}
	return sanitize(ensureExt("download", contentType))
}

// fromContentDisposition implements step 1: prefer filename* (RFC 5987),
// reject any candidate containing ';' to avoid the
// "foo.gguf; filename=foo.gguf" bug danzo was observed to hit.
func fromContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if star, ok := params["filename*"]; ok {
		if name := decodeRFC5987(star); name != "" && !strings.Contains(name, ";") {
			return name
		}
	}
	if name, ok := params["filename"]; ok && !strings.Contains(name, ";") {
		return name
	}
	return ""
}

// decodeRFC5987 parses the charset'lang'value encoding, e.g. UTF-8''%e2%82.
func decodeRFC5987(v string) string {
	parts := strings.SplitN(v, "'", 3)
	encoded := v
	if len(parts) == 3 {
		encoded = parts[2]
	}
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return ""
	}
	return decoded
}

func fromURLPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.EscapedPath())
	if base == "" || base == "." || base == "/" {
		return ""
	}
	decoded, err := url.QueryUnescape(base)
	if err != nil {
		return base
	}
	return decoded
}

func ensureExt(name, contentType string) string {
	if filepath.Ext(name) != "" {
		return name
	}
	mt := contentType
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(strings.ToLower(mt))
	if ext, ok := extByContentType[mt]; ok {
		return name + ext
	}
	return name
}

var controlCharsAndSeparators = "/\\\x00"

// sanitize implements step 4: strip path separators and control characters,
// trim trailing dots/spaces (illegal on Windows destinations).
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(controlCharsAndSeparators, r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	out = strings.TrimRight(out, ". ")
	if out == "" {
		return "download"
	}
	return out
}

// CollisionPolicy controls how Reserve behaves when dest_dir/name exists.
type CollisionPolicy string

const (
	CollisionRename CollisionPolicy = "rename" // default, spec.md §4.5 step 5
	CollisionError  CollisionPolicy = "error"  // supplemented per batch on_collision
)

// Reserve finds a free name under destDir and creates the temp file to
// claim the slot atomically, returning the chosen final filename and the
// open temp file path. Step 5 of spec.md §4.5, extended with the
// batch-level on_collision="error" option from SPEC_FULL.md §5.
func Reserve(destDir, name string, policy CollisionPolicy) (finalName string, tempPath string, err error) {
	if policy == "" {
		policy = CollisionRename
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for attempt := 0; ; attempt++ {
		full := filepath.Join(destDir, candidate)
		if _, statErr := os.Stat(full); os.IsNotExist(statErr) {
			temp := full + ".zdmr-part"
			f, createErr := os.OpenFile(temp, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
			if createErr != nil {
				if os.IsExist(createErr) {
					// lost a race with another Reserve call, try the next suffix
					candidate = fmt.Sprintf("%s (%d)%s", stem, attempt+1, ext)
					continue
				}
				return "", "", fmt.Errorf("reserving %s: %w", temp, createErr)
			}
			f.Close()
			return candidate, temp, nil
		} else if statErr != nil {
			return "", "", fmt.Errorf("stat %s: %w", full, statErr)
		}
		if policy == CollisionError {
			return "", "", fmt.Errorf("%s already exists", full)
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, attempt+1, ext)
	}
}
