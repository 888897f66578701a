// Package imageurl rewrites image links into a form browsers can embed.
package imageurl

import (
	"regexp"
	"strings"
)

const directBase = "https://lh3.googleusercontent.com/d/"

var (
	filePathRe = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	idParamRe  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
)

// Normalize turns a Google Drive share link into a direct image URL.
// Anything that is not a recognizable Drive link is returned unchanged, so
// Normalize is idempotent.
func Normalize(raw string) string {
	if raw == "" || !strings.Contains(raw, "drive.google.com") {
		return raw
	}
	if id, ok := driveFileID(raw); ok {
		return directBase + id
	}
	return raw
}

func driveFileID(raw string) (string, bool) {
	if m := filePathRe.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	if m := idParamRe.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	return "", false
}
