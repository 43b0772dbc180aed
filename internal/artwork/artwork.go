// ABOUTME: Album artwork reference resolution
// ABOUTME: Turns host image URIs into URLs a remote peer can fetch
package artwork

import "strings"

// ImageBaseURL serves images addressed by spotify:image:<id> URIs
const ImageBaseURL = "https://i.scdn.co/image/"

// URL converts a host artwork reference into a fetchable URL.
//
// http and https URLs pass through unchanged. Colon-separated URIs such as
// spotify:image:<id> resolve to ImageBaseURL plus their last segment.
// Anything else yields "".
func URL(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ""
	}

	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return uri
	}

	i := strings.LastIndex(uri, ":")
	if i < 0 {
		return ""
	}
	id := uri[i+1:]
	if id == "" || strings.ContainsAny(id, "/?# ") {
		return ""
	}
	return ImageBaseURL + id
}
