// Package webdav implements blob.Client on a WebDAV collection.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/vifly/tasksApp/internal/blob"
)

// DefaultTimeout bounds every WebDAV request.
const DefaultTimeout = 30 * time.Second

// Client is a blob.Client backed by gowebdav.
//
// gowebdav builds its requests without a context, so calls are serialized
// and every request a call sends is bound to that call's context through
// the transport.
type Client struct {
	mu  sync.Mutex
	dav *gowebdav.Client
	tr  *ctxTransport
}

var _ blob.Client = (*Client)(nil)

// Config describes a WebDAV endpoint.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// New creates a client rooted at cfg.URL.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webdav url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tr := &ctxTransport{base: http.DefaultTransport}
	dav := gowebdav.NewClient(strings.TrimRight(cfg.URL, "/")+"/", cfg.Username, cfg.Password)
	dav.SetTimeout(timeout)
	dav.SetTransport(tr)
	return &Client{dav: dav, tr: tr}, nil
}

// call runs fn with ctx bound to every request it sends. Once ctx is done
// its error is returned instead of the transport's.
func (c *Client) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tr.ctx = ctx
	defer func() { c.tr.ctx = nil }()

	err := fn()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// CheckConnection implements blob.Client.
func (c *Client) CheckConnection(ctx context.Context) error {
	if err := c.call(ctx, c.dav.Connect); err != nil {
		return fmt.Errorf("failed to connect to webdav server: %w", translate(err))
	}
	return nil
}

// CreateDirectory implements blob.Client.
func (c *Client) CreateDirectory(ctx context.Context, path string) error {
	err := c.call(ctx, func() error { return c.dav.Mkdir(path, 0755) })
	if err == nil || gowebdav.IsErrCode(err, http.StatusMethodNotAllowed) {
		// 405 means the collection already exists.
		return nil
	}
	return fmt.Errorf("failed to create collection %s: %w", path, translate(err))
}

// PutFile implements blob.Client. A missing parent collection is reported as
// blob.ErrCollectionMissing; it is not created here.
func (c *Client) PutFile(ctx context.Context, name string, data []byte) error {
	err := c.call(ctx, func() error {
		// gowebdav's Write creates missing parents on its own.
		if dir := path.Dir(name); dir != "." && dir != "/" {
			if _, err := c.dav.Stat(dir); err != nil {
				if gowebdav.IsErrNotFound(err) {
					return fmt.Errorf("%w: %s", blob.ErrCollectionMissing, dir)
				}
				return err
			}
		}
		return c.dav.Write(name, data, 0644)
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, translate(err))
	}
	return nil
}

// GetFile implements blob.Client.
func (c *Client) GetFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := c.call(ctx, func() (err error) {
		data, err = c.dav.Read(path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, translate(err))
	}
	return data, nil
}

// ListFiles implements blob.Client.
func (c *Client) ListFiles(ctx context.Context, path string) ([]string, error) {
	var infos []os.FileInfo
	err := c.call(ctx, func() (err error) {
		infos, err = c.dav.ReadDir(path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, translate(err))
	}

	var names []string
	for _, fi := range infos {
		if fi.IsDir() || !blob.IsDelta(fi.Name()) {
			continue
		}
		names = append(names, fi.Name())
	}
	return names, nil
}

// translate maps WebDAV status codes onto the blob sentinels.
func translate(err error) error {
	switch {
	case gowebdav.IsErrNotFound(err):
		return errors.Join(blob.ErrNotFound, err)
	case gowebdav.IsErrCode(err, http.StatusConflict):
		return errors.Join(blob.ErrCollectionMissing, err)
	default:
		return err
	}
}

// ctxTransport cancels requests when the context of the call in flight is
// done. The request's own context still applies, so the client timeout is
// kept.
type ctxTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	callCtx := t.ctx
	if callCtx == nil {
		return t.base.RoundTrip(req)
	}

	ctx, cancel := context.WithCancelCause(req.Context())
	stop := context.AfterFunc(callCtx, func() { cancel(context.Cause(callCtx)) })
	release := func() {
		stop()
		cancel(nil)
	}

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		release()
		return nil, err
	}
	// The body is read after RoundTrip returns; keep the context alive until
	// it is closed.
	resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releaseBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
