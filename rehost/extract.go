package rehost

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	bareURL       = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)
	safeExt       = regexp.MustCompile(`^[a-z0-9]{1,10}$`)
)

// ExtractURLs returns the distinct http(s) URLs in s, markdown image
// targets first, in order of appearance.
func ExtractURLs(s string) []string {
	if !strings.Contains(s, "http") {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, m := range markdownImage.FindAllStringSubmatch(s, -1) {
		add(m[1])
	}
	for _, u := range bareURL.FindAllString(s, -1) {
		add(trimTrailing(u))
	}
	return out
}

// trimTrailing drops sentence punctuation and an unbalanced closing
// bracket that the bare-URL pattern swallows.
func trimTrailing(u string) string {
	for len(u) > 0 {
		c := u[len(u)-1]
		switch c {
		case '.', ',', ';', ':', '!', '?':
			u = u[:len(u)-1]
			continue
		case ')':
			if strings.Count(u, "(") < strings.Count(u, ")") {
				u = u[:len(u)-1]
				continue
			}
		case ']':
			if strings.Count(u, "[") < strings.Count(u, "]") {
				u = u[:len(u)-1]
				continue
			}
		}
		return u
	}
	return u
}

// isFileContentType rejects missing types and HTML pages.
func isFileContentType(ct string) bool {
	ct = strings.TrimSpace(strings.ToLower(ct))
	return ct != "" && !strings.HasPrefix(ct, "text/html")
}

// Extension picks the object extension: Content-Disposition filename,
// then the Content-Type subtype, then the URL path for generic binary
// types. Falls back to "bin".
func Extension(contentDisposition, contentType, rawURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if ext := cleanExt(path.Ext(params["filename"])); ext != "" {
				return ext
			}
		}
	}
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if _, sub, ok := strings.Cut(mt, "/"); ok {
				sub, _, _ = strings.Cut(sub, "+")
				switch sub {
				case "octet-stream", "bin", "binary":
				default:
					if ext := cleanExt(sub); ext != "" {
						return ext
					}
				}
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := cleanExt(path.Ext(u.Path)); ext != "" {
			return ext
		}
	}
	return "bin"
}

func cleanExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !safeExt.MatchString(ext) {
		return ""
	}
	return ext
}
