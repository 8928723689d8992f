package gs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"chromite/internal/services"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket  string
	Name    string
	Size    int64
	Updated time.Time
}

// URL returns the object's gs:// URL.
func (o ObjectInfo) URL() string {
	return BaseGSURL + o.Bucket + "/" + o.Name
}

// UploadOptions adjusts an upload.
type UploadOptions struct {
	// ACL is a gsutil canned ACL name such as "public-read".
	ACL         string
	ContentType string
}

// Storage is the object store the GS helpers are written against.
type Storage interface {
	Upload(ctx context.Context, bucket, object string, r io.Reader, opts UploadOptions) error
	Download(ctx context.Context, bucket, object string, w io.Writer) error
	Exists(ctx context.Context, bucket, object string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, bucket, object string) error
	Close() error
}

// ErrObjectNotExist reports a missing object.
var ErrObjectNotExist = errors.New("gs: object does not exist")

var predefinedACLs = map[string]string{
	"private":                   "private",
	"public-read":               "publicRead",
	"project-private":           "projectPrivate",
	"authenticated-read":        "authenticatedRead",
	"bucket-owner-read":         "bucketOwnerRead",
	"bucket-owner-full-control": "bucketOwnerFullControl",
}

// PredefinedACL maps a gsutil canned ACL to its JSON API name.
func PredefinedACL(acl string) (string, error) {
	if acl == "" {
		return "", nil
	}
	if v, ok := predefinedACLs[acl]; ok {
		return v, nil
	}
	return "", services.Wrap(services.ErrValidation, "gs", "acl", fmt.Sprintf("unknown canned acl %q", acl), nil)
}

// CloudStorage implements Storage with cloud.google.com/go/storage.
type CloudStorage struct {
	client *storage.Client
}

// NewCloudStorage creates a client. An empty credentialsFile uses
// application default credentials.
func NewCloudStorage(ctx context.Context, credentialsFile string) (*CloudStorage, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "gs", "new client", "create storage client", err)
	}
	return &CloudStorage{client: client}, nil
}

// Upload streams r into bucket/object.
func (c *CloudStorage) Upload(ctx context.Context, bucket, object string, r io.Reader, opts UploadOptions) error {
	acl, err := PredefinedACL(opts.ACL)
	if err != nil {
		return err
	}
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.PredefinedACL = acl
	if opts.ContentType != "" {
		w.ContentType = opts.ContentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return classify("upload", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return classify("upload", bucket, object, err)
	}
	return nil
}

// Download copies bucket/object into w.
func (c *CloudStorage) Download(ctx context.Context, bucket, object string, w io.Writer) error {
	r, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return classify("download", bucket, object, err)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		return classify("download", bucket, object, err)
	}
	return nil
}

// Exists reports whether bucket/object is present.
func (c *CloudStorage) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify("stat", bucket, object, err)
}

// List returns every object under prefix.
func (c *CloudStorage) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list", bucket, prefix, err)
		}
		out = append(out, ObjectInfo{Bucket: attrs.Bucket, Name: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
	return out, nil
}

// Delete removes bucket/object. A missing object is not an error.
func (c *CloudStorage) Delete(ctx context.Context, bucket, object string) error {
	err := c.client.Bucket(bucket).Object(object).Delete(ctx)
	if err == nil || isNotFound(err) {
		return nil
	}
	return classify("delete", bucket, object, err)
}

// Close releases the underlying client.
func (c *CloudStorage) Close() error {
	return c.client.Close()
}

func isNotFound(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, ErrObjectNotExist) {
		return true
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func classify(op, bucket, object string, err error) error {
	target := fmt.Sprintf("gs://%s/%s", bucket, object)
	if isNotFound(err) {
		return services.Wrap(services.ErrNotFound, "gs", op, target, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500) {
		return services.Wrap(services.ErrTransient, "gs", op, target, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "gs", op, target, err)
	}
	return services.Wrap(services.ErrExternalTool, "gs", op, target, err)
}
