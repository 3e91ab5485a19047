// Package classify implements Component B: mapping an object key's
// extension to a MIME type and a MIME type to one of eight object-type
// categories.
package classify

import (
	"strings"

	"github.com/alchemorsel/gateway/internal/domain/object"
)

// extensionToMIME is the fixed extension-to-MIME table. Lookups lowercase
// the extension first; an unknown extension falls back to
// application/octet-stream.
var extensionToMIME = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"ico":  "image/x-icon",
	"avif": "image/avif",
	"bmp":  "image/bmp",

	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",

	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",

	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"eot":   "application/vnd.ms-fontobject",

	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"csv":  "text/csv",
	"txt":  "text/plain",
	"md":   "text/markdown",

	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"mjs":  "application/javascript",
	"json": "application/json",
	"xml":  "application/xml",
	"wasm": "application/wasm",

	"zip": "application/zip",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
	"7z":  "application/x-7z-compressed",
	"rar": "application/vnd.rar",

	"bin": "application/octet-stream",
}

var archiveMIMEs = map[string]bool{
	"application/zip":             true,
	"application/x-tar":           true,
	"application/gzip":            true,
	"application/x-7z-compressed": true,
	"application/vnd.rar":         true,
}

var documentMIMEs = map[string]bool{
	"application/pdf":              true,
	"application/msword":           true,
	"application/vnd.ms-excel":     true,
	"application/vnd.ms-powerpoint": true,
	"text/csv":                     true,
	"text/plain":                   true,
	"text/markdown":                true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

var staticMIMEs = map[string]bool{
	"text/html":               true,
	"text/css":                true,
	"application/javascript":  true,
	"application/json":        true,
	"application/xml":         true,
	"application/wasm":        true,
	"image/svg+xml":           true,
}

// MIMEForKey maps an object key's extension to a MIME type. The extension
// is the text after the last dot, lowercased; an unknown or missing
// extension yields application/octet-stream.
func MIMEForKey(key string) string {
	ext := extensionOf(key)
	if mime, ok := extensionToMIME[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

func extensionOf(key string) string {
	idx := strings.LastIndexByte(key, '.')
	if idx < 0 || idx == len(key)-1 {
		return ""
	}
	return strings.ToLower(key[idx+1:])
}

// CategoryForMIME maps a MIME type to one of the eight object categories.
// Classification is a pure function of the MIME string.
func CategoryForMIME(mime string) object.Category {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return object.CategoryImage
	case strings.HasPrefix(mime, "video/"):
		return object.CategoryVideo
	case strings.HasPrefix(mime, "audio/"):
		return object.CategoryAudio
	case strings.HasPrefix(mime, "font/"):
		return object.CategoryFont
	}

	// application/vnd.ms-fontobject (eot) doesn't carry a font/ prefix.
	if mime == "application/vnd.ms-fontobject" {
		return object.CategoryFont
	}

	if archiveMIMEs[mime] {
		return object.CategoryArchive
	}
	if documentMIMEs[mime] {
		return object.CategoryDocument
	}
	if staticMIMEs[mime] {
		return object.CategoryStatic
	}

	return object.CategoryBinary
}

// Classify combines MIMEForKey and CategoryForMIME for convenience.
func Classify(key string) (mime string, category object.Category) {
	mime = MIMEForKey(key)
	return mime, CategoryForMIME(mime)
}
