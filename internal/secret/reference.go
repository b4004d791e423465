package secret

import (
	"fmt"
	"net/url"
	"strings"
)

const scheme = "secret"

// Reference is a parsed secret://<provider>/<path>?<query> URI.
type Reference struct {
	Raw      string
	Provider string
	Segments []string
	Query    url.Values
}

// IsReference reports whether value should be resolved rather than used as-is.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), scheme+"://")
}

// Parse converts a secret:// URI into a Reference.
func Parse(ref string) (*Reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parse secret reference %q: %w", ref, err)
	}
	if u.Scheme != scheme {
		return nil, fmt.Errorf("invalid secret scheme %q", u.Scheme)
	}

	provider := strings.ToLower(u.Host)
	if provider == "" {
		return nil, fmt.Errorf("secret reference %q missing provider", ref)
	}

	var segments []string
	for _, s := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}

	return &Reference{
		Raw:      ref,
		Provider: provider,
		Segments: segments,
		Query:    u.Query(),
	}, nil
}

// Param returns the trimmed query parameter key.
func (r *Reference) Param(key string) string {
	return strings.TrimSpace(r.Query.Get(key))
}
