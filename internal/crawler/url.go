package crawler

import (
	"net/url"
	"strings"
)

// NormalizeURL collapses every run of two or more slashes into a single
// slash unless the run directly follows a colon, in which case it becomes
// exactly "//" so scheme separators survive. The result is idempotent.
func NormalizeURL(rawURL string) string {
	if !strings.Contains(rawURL, "//") {
		return rawURL
	}
	var b strings.Builder
	b.Grow(len(rawURL))
	for i := 0; i < len(rawURL); {
		if rawURL[i] != '/' {
			b.WriteByte(rawURL[i])
			i++
			continue
		}
		j := i
		for j < len(rawURL) && rawURL[j] == '/' {
			j++
		}
		if i > 0 && rawURL[i-1] == ':' && j-i > 1 {
			b.WriteString("//")
		} else {
			b.WriteByte('/')
		}
		i = j
	}
	return b.String()
}

// CanonicalRoot trims and normalizes a root catalog URL and drops trailing
// slashes so that equivalent spellings share one checkpoint entry.
func CanonicalRoot(rawURL string) string {
	root := NormalizeURL(strings.TrimSpace(rawURL))
	if trimmed := strings.TrimRight(root, "/"); !strings.HasSuffix(trimmed, ":") {
		return trimmed
	}
	return root
}

// JoinURL appends path segments to base with "/" and normalizes the result.
// Empty segments are ignored.
func JoinURL(base string, parts ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(part)
	}
	return NormalizeURL(b.String())
}

// withJSONFormat sets f=json on the query string, keeping any other parameters.
func withJSONFormat(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + "f=json"
	}
	q := u.Query()
	q.Set("f", "json")
	u.RawQuery = q.Encode()
	return u.String()
}

// stripQuery drops the query string and fragment from a URL.
func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// resolveChildPath returns the root-relative path of a folder or service
// named in a listing. Folder-qualified names ("Folder/Service") are already
// root-relative; bare names are relative to the listing's folder.
func resolveChildPath(folder, name string) string {
	name = strings.Trim(name, "/")
	if folder == "" || strings.Contains(name, "/") {
		return name
	}
	return folder + "/" + name
}
