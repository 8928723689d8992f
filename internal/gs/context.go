package gs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chromite/internal/services"
)

// Context performs gsutil-style operations against a Storage. In dry-run
// mode every mutation is logged and skipped.
type Context struct {
	Storage        Storage
	DryRun         bool
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewContext wraps storage.
func NewContext(storage Storage, dryRun bool, timeout time.Duration, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Context{Storage: storage, DryRun: dryRun, RequestTimeout: timeout, Logger: logger}
}

func (c *Context) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.RequestTimeout)
	}
	return ctx, func() {}
}

// Copy copies src to dst. Either side may be local or gs://; local to local
// is rejected.
func (c *Context) Copy(ctx context.Context, src, dst, acl string) error {
	srcGS, dstGS := PathIsGS(src), PathIsGS(dst)
	switch {
	case !srcGS && !dstGS:
		return services.Wrap(services.ErrValidation, "gs", "copy", "at least one side must be gs://", nil)
	case dstGS && c.DryRun:
		c.Logger.Info("dry run: skipping gs copy", slog.String("src", src), slog.String("dst", dst))
		return nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if !dstGS {
		bucket, object, err := ParseURL(src)
		if err != nil {
			return services.Wrap(services.ErrValidation, "gs", "copy", "parse source", err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "gs", "copy", "create destination dir", err)
		}
		f, err := os.Create(dst)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "gs", "copy", "create destination", err)
		}
		defer f.Close()
		if err := c.Storage.Download(ctx, bucket, object, f); err != nil {
			return err
		}
		return f.Close()
	}

	bucket, object, err := ParseURL(dst)
	if err != nil {
		return services.Wrap(services.ErrValidation, "gs", "copy", "parse destination", err)
	}
	if srcGS {
		sb, so, err := ParseURL(src)
		if err != nil {
			return services.Wrap(services.ErrValidation, "gs", "copy", "parse source", err)
		}
		var buf bytes.Buffer
		if err := c.Storage.Download(ctx, sb, so, &buf); err != nil {
			return err
		}
		return c.Storage.Upload(ctx, bucket, object, &buf, UploadOptions{ACL: acl})
	}

	f, err := os.Open(src)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "gs", "copy", "open source", err)
	}
	defer f.Close()
	c.Logger.Debug("uploading", slog.String("src", src), slog.String("dst", dst), slog.String("acl", acl))
	return c.Storage.Upload(ctx, bucket, object, f, UploadOptions{ACL: acl})
}

// CopyInto uploads local into remoteDir under its base name and returns the
// resulting URL.
func (c *Context) CopyInto(ctx context.Context, local, remoteDir, acl string) (string, error) {
	dst := Join(remoteDir, filepath.Base(local))
	return dst, c.Copy(ctx, local, dst, acl)
}

// Write stores data at url.
func (c *Context) Write(ctx context.Context, url string, data []byte, acl string) error {
	if c.DryRun {
		c.Logger.Info("dry run: skipping gs write", slog.String("dst", url), slog.Int("bytes", len(data)))
		return nil
	}
	bucket, object, err := ParseURL(url)
	if err != nil {
		return services.Wrap(services.ErrValidation, "gs", "write", "parse destination", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.Storage.Upload(ctx, bucket, object, bytes.NewReader(data), UploadOptions{ACL: acl})
}

// Cat returns the contents of url.
func (c *Context) Cat(ctx context.Context, url string) ([]byte, error) {
	bucket, object, err := ParseURL(url)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "gs", "cat", "parse url", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var buf bytes.Buffer
	if err := c.Storage.Download(ctx, bucket, object, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Exists reports whether url names an object.
func (c *Context) Exists(ctx context.Context, url string) (bool, error) {
	bucket, object, err := ParseURL(url)
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "gs", "exists", "parse url", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.Storage.Exists(ctx, bucket, object)
}

// List returns the URLs of objects under url, treated as a prefix.
func (c *Context) List(ctx context.Context, url string) ([]string, error) {
	bucket, prefix, err := ParseURL(url)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "gs", "list", "parse url", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	objects, err := c.Storage.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(objects))
	for i, obj := range objects {
		out[i] = obj.URL()
	}
	return out, nil
}

// Remove deletes url. With recursive set every object under the prefix is
// removed.
func (c *Context) Remove(ctx context.Context, url string, recursive bool) error {
	if c.DryRun {
		c.Logger.Info("dry run: skipping gs remove", slog.String("url", url), slog.Bool("recursive", recursive))
		return nil
	}
	if !recursive {
		bucket, object, err := ParseURL(url)
		if err != nil {
			return services.Wrap(services.ErrValidation, "gs", "remove", "parse url", err)
		}
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.Storage.Delete(ctx, bucket, object)
	}
	urls, err := c.List(ctx, strings.TrimRight(url, "/")+"/")
	if err != nil {
		return err
	}
	for _, u := range urls {
		if err := c.Remove(ctx, u, false); err != nil {
			return fmt.Errorf("remove %s: %w", u, err)
		}
	}
	return nil
}
