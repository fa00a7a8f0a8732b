// Package privacy scrubs user-identifying data, mainly media file paths
// and URIs, from text that leaves the machine.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Pre-compiled patterns
var (
	// URIs a media backend may be given
	urlPattern = regexp.MustCompile(`\b(?:https?|file|rtsp)://\S+`)

	// Absolute unix paths and drive-letter windows paths. A path ends at
	// whitespace or a quote.
	pathPattern = regexp.MustCompile(`(?:[A-Za-z]:\\|/)[^\s"'` + "`" + `]+`)

	// Credentials in key=value form
	secretPattern = regexp.MustCompile(`(?i)\b(dsn|token|key|password)[=:]\S+`)
)

// ScrubMessage redacts credentials and replaces URIs and absolute paths in
// message with stable anonymized tokens.
func ScrubMessage(message string) string {
	message = secretPattern.ReplaceAllString(message, "${1}=[REDACTED]")
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return pathPattern.ReplaceAllStringFunc(message, func(p string) string {
		// Tokens already produced above contain no separators.
		if strings.Count(p, "/")+strings.Count(p, `\`) < 2 {
			return p
		}
		return AnonymizePath(p)
	})
}

// AnonymizeURL reduces a URL to its scheme, host class and a hash of the
// rest.
func AnonymizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "url-" + shortHash(rawURL)
	}

	host := "local"
	if parsed.Hostname() != "" {
		host = "remote"
	}
	return fmt.Sprintf("%s-%s-%s%s", parsed.Scheme, host, shortHash(parsed.Host+parsed.Path), extOf(parsed.Path))
}

// AnonymizePath replaces a file path with a hash, keeping the extension
// since it says which decoder was involved.
func AnonymizePath(path string) string {
	return "path-" + shortHash(path) + extOf(path)
}

func extOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if len(ext) > 6 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:6])
}
