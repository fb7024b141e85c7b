package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Reference is a parsed secret://name[?version=N&project=P] URI.
type Reference struct {
	Name    string
	Version string
	Project string
}

// ParseReference validates a secret reference. The legacy sm:// prefix is accepted.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	ref := Reference{
		Name:    name,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}
	if ref.Version == "" {
		ref.Version = latestVersion
	}
	return ref, nil
}

// String renders the canonical form used as cache and fallback key.
func (r Reference) String() string {
	return "secret://" + r.Name
}

func (r Reference) resource(defaultProject string) (string, bool) {
	project := r.Project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return "", false
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, r.Version), true
}

func (r Reference) cacheKey() string {
	return r.String() + "#" + r.Version + "@" + r.Project
}

func (r Reference) fallbackKey() string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z':
			return c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		}
		return '_'
	}, r.Name)
}

// masked hides secret names in metrics and logs.
func (r Reference) masked() string {
	sum := sha256.Sum256([]byte(r.String()))
	return hex.EncodeToString(sum[:6])
}
