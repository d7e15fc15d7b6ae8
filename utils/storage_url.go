package utils

import (
	"net/url"
	"os"
	"strings"
)

// BuildObjectAccessURL turns an object key into the URL stored on products.
// STORAGE_ACCESS_BASE_URL may contain {objectKey}; otherwise GCS_URL/GCS_BUCKET are used.
func BuildObjectAccessURL(objectKey string) string {
	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			escaped := objectKey
			if strings.Contains(base, "?") {
				escaped = url.QueryEscape(objectKey)
			}
			return strings.ReplaceAll(base, "{objectKey}", escaped)
		}
		if strings.Contains(base, "?") {
			return base + url.QueryEscape(objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}

	gcsURL := strings.TrimSpace(os.Getenv("GCS_URL"))
	gcsBucket := GetStorageBucket()
	if gcsURL == "" && gcsBucket != "" {
		gcsURL = "storage.googleapis.com"
	}
	if gcsBucket != "" {
		return "https://" + gcsURL + "/" + gcsBucket + "/" + objectKey
	}

	return objectKey
}

// ExtractObjectKeyFromURL is the inverse of BuildObjectAccessURL; "" when the URL is not ours.
func ExtractObjectKeyFromURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	// raw object keys ("products/abc.jpg") pass through
	if !strings.Contains(rawURL, "://") && !strings.HasPrefix(rawURL, "/") && strings.Contains(rawURL, "/") {
		if strings.Contains(rawURL, "..") {
			return ""
		}
		return rawURL
	}

	if strings.HasPrefix(rawURL, "gs://") {
		parts := strings.SplitN(strings.TrimPrefix(rawURL, "gs://"), "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}

	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			parts := strings.Split(base, "{objectKey}")
			if len(parts) == 2 && strings.HasPrefix(rawURL, parts[0]) && strings.HasSuffix(rawURL, parts[1]) {
				trimmed := strings.TrimSuffix(strings.TrimPrefix(rawURL, parts[0]), parts[1])
				if decoded, err := url.QueryUnescape(trimmed); err == nil {
					return decoded
				}
				return trimmed
			}
		} else if prefix := strings.TrimRight(base, "/") + "/"; !strings.Contains(base, "?") && strings.HasPrefix(rawURL, prefix) {
			return strings.TrimPrefix(rawURL, prefix)
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if key := parsed.Query().Get("objectKey"); key != "" {
		return key
	}

	// https://storage.googleapis.com/<bucket>/<key> and https://<bucket>.storage.googleapis.com/<key>
	host := strings.ToLower(parsed.Host)
	p := strings.TrimPrefix(parsed.Path, "/")
	if host == "storage.googleapis.com" || host == "storage.cloud.google.com" || host == strings.ToLower(strings.TrimSpace(os.Getenv("GCS_URL"))) {
		parts := strings.SplitN(p, "/", 2)
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	if strings.HasSuffix(host, ".storage.googleapis.com") && p != "" {
		return p
	}
	return ""
}
