package download

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const minNameLength = 3

var (
	unsafeChars        = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	dispositionPattern = regexp.MustCompile(`(?i)filename\*?=(?:UTF-8'')?"?([^";]+)"?`)
)

// contentTypeExtensions covers the document types the harvester cares about;
// anything else falls through to the mime package.
var contentTypeExtensions = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.ms-excel":                                                  ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/zip":    ".zip",
	"text/plain":         ".txt",
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
}

// Sanitize replaces every character outside [a-zA-Z0-9._-] with an underscore.
func Sanitize(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// FilenameFromURL derives a safe filename from the URL path. Degenerate names
// are replaced by download_<unix millis>.
func FilenameFromURL(rawURL string, now time.Time) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		p := u.Path
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		base = path.Base(p)
	}
	if base == "." || base == "/" || len([]rune(base)) < minNameLength {
		return "download_" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	return Sanitize(base)
}

// FilenameFromDisposition extracts the filename offered by a Content-Disposition header.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	name := ""
	if _, params, err := mime.ParseMediaType(header); err == nil {
		name = params["filename"]
	}
	if name == "" {
		if m := dispositionPattern.FindStringSubmatch(header); len(m) == 2 {
			name = m[1]
			if unescaped, err := url.QueryUnescape(name); err == nil {
				name = unescaped
			}
		}
	}
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	if name == "." || name == "/" || len([]rune(name)) < minNameLength {
		return ""
	}
	return Sanitize(name)
}

// ExtensionForContentType returns a file extension (with dot) for a content type.
func ExtensionForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := contentTypeExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
