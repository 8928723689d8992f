// Package gs handles Google Storage URLs and object access.
package gs

import (
	"fmt"
	"strings"
)

const (
	// PublicBaseHTTPSURL serves public objects.
	PublicBaseHTTPSURL = "https://storage.googleapis.com/"
	// PrivateBaseHTTPSURL serves authenticated objects.
	PrivateBaseHTTPSURL = "https://storage.cloud.google.com/"
	// PrivateBaseHTTPSDownloadURL browses authenticated directories.
	PrivateBaseHTTPSDownloadURL = "https://stainless.corp.google.com/browse/"
	// BaseGSURL is the gs:// scheme prefix.
	BaseGSURL = "gs://"
)

var canonicalPrefixes = []string{
	PublicBaseHTTPSURL,
	PrivateBaseHTTPSURL,
	PrivateBaseHTTPSDownloadURL,
	"https://pantheon.corp.google.com/storage/browser/",
	"https://commondatastorage.googleapis.com/",
}

// PathIsGS reports whether path is a gs:// URI.
func PathIsGS(path string) bool {
	return strings.HasPrefix(path, BaseGSURL)
}

// CanonicalizeURL rewrites known HTTPS forms of an object URL to gs://. In
// strict mode a URL that is neither known nor already gs:// is an error.
func CanonicalizeURL(url string, strict bool) (string, error) {
	for _, prefix := range canonicalPrefixes {
		if strings.HasPrefix(url, prefix) {
			return BaseGSURL + strings.TrimPrefix(url, prefix), nil
		}
	}
	if strict && !PathIsGS(url) {
		return "", fmt.Errorf("url %q cannot be canonicalized", url)
	}
	return url, nil
}

// GetGSURL builds a URL for bucket/suburl, either gs:// or HTTPS.
func GetGSURL(bucket string, forGsutil, public bool, suburl string) string {
	url := fmt.Sprintf("gs://%s/%s", bucket, suburl)
	if forGsutil {
		return url
	}
	out, _ := GSURLToHTTP(url, public, false)
	return out
}

// GSURLToHTTP converts a gs:// URL to the HTTPS URL of the same resource.
// Private directories use the browse endpoint; a trailing slash marks a
// directory.
func GSURLToHTTP(path string, public, directory bool) (string, error) {
	if !PathIsGS(path) {
		return "", fmt.Errorf("%q is not a gs:// url", path)
	}
	directory = directory || strings.HasSuffix(path, "/")
	rest := strings.TrimPrefix(path, BaseGSURL)
	switch {
	case public:
		return PublicBaseHTTPSURL + rest, nil
	case directory:
		return PrivateBaseHTTPSDownloadURL + rest, nil
	default:
		return PrivateBaseHTTPSURL + rest, nil
	}
}

// ParseURL splits gs://bucket/object into its parts. The object may be empty
// for a bare bucket.
func ParseURL(url string) (bucket, object string, err error) {
	if !PathIsGS(url) {
		return "", "", fmt.Errorf("%q is not a gs:// url", url)
	}
	rest := strings.TrimPrefix(url, BaseGSURL)
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%q has no bucket", url)
	}
	return bucket, object, nil
}

// Join appends path elements to a gs:// URL using forward slashes.
func Join(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		out += "/" + e
	}
	return out
}
