// Package remote builds the blob client for the configured shared folder.
package remote

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/vifly/tasksApp/internal/blob"
	"github.com/vifly/tasksApp/internal/blob/dirstore"
	"github.com/vifly/tasksApp/internal/blob/webdav"
	"github.com/vifly/tasksApp/internal/config"
)

// ErrNotConfigured is returned when no server URL has been set.
var ErrNotConfigured = errors.New("sync is not configured")

// Kind names the transport a URL selects.
type Kind string

const (
	KindWebDAV    Kind = "webdav"
	KindDirectory Kind = "directory"
)

// Target is a parsed server URL.
type Target struct {
	Kind Kind
	// URL is the WebDAV base URL for KindWebDAV.
	URL string
	// Dir is the absolute directory for KindDirectory.
	Dir string
}

// Parse classifies a server URL: http and https select WebDAV, file URLs and
// plain paths select a directory.
func Parse(serverURL string) (Target, error) {
	raw := strings.TrimSpace(serverURL)
	if raw == "" {
		return Target{}, ErrNotConfigured
	}

	u, err := url.Parse(raw)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return Target{Kind: KindWebDAV, URL: raw}, nil
		case "file":
			p := u.Path
			if p == "" {
				p = u.Opaque
			}
			if p == "" {
				return Target{}, fmt.Errorf("file url has no path: %s", raw)
			}
			return directory(p)
		case "":
		default:
			// Windows drive letters parse as a one-letter scheme.
			if len(u.Scheme) > 1 {
				return Target{}, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
			}
		}
	}
	return directory(raw)
}

func directory(p string) (Target, error) {
	abs, err := filepath.Abs(filepath.FromSlash(p))
	if err != nil {
		return Target{}, fmt.Errorf("invalid directory %s: %w", p, err)
	}
	return Target{Kind: KindDirectory, Dir: abs}, nil
}

// Open returns the blob client for s.
// Returns ErrNotConfigured when no server URL is set.
func Open(s *config.Settings) (blob.Client, Target, error) {
	target, err := Parse(s.ServerURL)
	if err != nil {
		return nil, Target{}, err
	}

	switch target.Kind {
	case KindWebDAV:
		c, err := webdav.New(webdav.Config{
			URL:      target.URL,
			Username: s.Username,
			Password: s.Password,
		})
		if err != nil {
			return nil, Target{}, err
		}
		return c, target, nil
	default:
		return dirstore.New(afero.NewOsFs(), target.Dir), target, nil
	}
}

// Connector returns a function that opens a fresh client from the current
// settings on every call, so edits to the config apply to the next pass.
func Connector(load func() (*config.Settings, error)) func() (blob.Client, error) {
	return func() (blob.Client, error) {
		s, err := load()
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		c, _, err := Open(s)
		return c, err
	}
}
