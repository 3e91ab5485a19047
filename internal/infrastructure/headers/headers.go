// Package headers implements Component C: composing the response header
// set from origin metadata, the active cache policy, and request-scoped
// flags (bypass, custom tags).
package headers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/infrastructure/classify"
	"github.com/alchemorsel/gateway/internal/infrastructure/config"
)

var tagSanitizer = regexp.MustCompile(`[^A-Za-z0-9\-_./]`)

// SanitizeTag strips any character outside the allowed alphabet
// (alphanumerics, -_./) from a caller-supplied custom tag.
func SanitizeTag(tag string) string {
	return tagSanitizer.ReplaceAllString(tag, "")
}

// ParseCustomTags splits a "tags=a,b,c" query value into a sanitized list,
// dropping empty elements.
func ParseCustomTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		sanitized := SanitizeTag(p)
		if sanitized != "" {
			tags = append(tags, sanitized)
		}
	}
	return tags
}

// BuildInput bundles everything the header builder needs for one response.
type BuildInput struct {
	Object      *object.Object
	Host        string
	Key         string
	Category    object.Category
	Policy      config.GatewayConfig
	Bypass      bool
	CustomTags  []string
	// RangeLen, when > 0, overrides Content-Length with the length of the
	// range slice being served as a 206.
	RangeLen int64
}

// Build composes the finished header set for a non-bypass or bypass
// response per the Header Builder contract.
func Build(in BuildInput) http.Header {
	h := http.Header{}

	contentType := in.Object.ContentType
	if contentType == "" {
		contentType = classify.MIMEForKey(in.Key)
	}
	h.Set("Content-Type", contentType)

	length := in.Object.Size
	if in.RangeLen > 0 {
		length = in.RangeLen
	}
	h.Set("Content-Length", fmt.Sprintf("%d", length))

	h.Set("ETag", in.Object.ETag)
	h.Set("Accept-Ranges", "bytes")
	h.Set("X-Content-Type-Options", "nosniff")

	if in.Bypass {
		h.Set("Cache-Control", "no-store, max-age=0")
	} else {
		maxAge := in.Policy.DefaultMaxAge
		if override, ok := in.Policy.ObjectTypeConfig[string(in.Category)]; ok && override.MaxAge > 0 {
			maxAge = override.MaxAge
		}
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
			int64(maxAge.Seconds()), int64(in.Policy.DefaultSWR.Seconds())))

		if tags := in.Policy.Tags; tags.Enabled {
			if tagValue := buildCacheTag(in, tags); tagValue != "" {
				h.Set("Cache-Tag", tagValue)
			}
		}
	}

	if v := in.Object.HTTPMetadata.LastModified; v != "" {
		h.Set("Last-Modified", v)
	}
	if v := in.Object.HTTPMetadata.ContentDisposition; v != "" {
		h.Set("Content-Disposition", v)
	}
	if v := in.Object.HTTPMetadata.ContentEncoding; v != "" {
		h.Set("Content-Encoding", v)
	}
	if v := in.Object.HTTPMetadata.ContentLanguage; v != "" {
		h.Set("Content-Language", v)
	}

	return h
}

func buildCacheTag(in BuildInput, tags config.TagsConfig) string {
	prefix := tags.Prefix
	var parts []string

	parts = append(parts, fmt.Sprintf("%s%s/%s", prefix, in.Host, in.Key))
	parts = append(parts, fmt.Sprintf("%stype-%s", prefix, in.Category))

	if override, ok := in.Policy.ObjectTypeConfig[string(in.Category)]; ok {
		for _, t := range override.Tags {
			parts = append(parts, prefix+t)
		}
	}

	for _, t := range tags.DefaultTags {
		parts = append(parts, prefix+t)
	}

	for _, t := range in.CustomTags {
		parts = append(parts, prefix+t)
	}

	return strings.Join(parts, ",")
}
