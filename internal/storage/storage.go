// Package storage defines the Storage interface that keeps file attachment
// bytes outside the database, and a registry of backends.
//
// Each backend registers itself from an init function in its own package and
// the server blank-imports the ones it ships with:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Storage.MyBackend)
//	    })
//	}
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
	"unicode"
)

// ErrNotFound is returned by Open when the key holds no object.
var ErrNotFound = errors.New("storage: object not found")

// Storage stores attachment objects by key.
type Storage interface {
	// Put stores the reader's bytes under key and returns its size and checksum
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error)

	// Open streams the object stored under key
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a time-limited download URL, or "" when the backend cannot
	// sign URLs and the object must be streamed through the API.
	URL(ctx context.Context, key, filename string, ttl time.Duration) (string, error)

	// Bucket names the container objects are stored in, recorded with each file
	Bucket() string

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
}

// Object describes a stored object.
type Object struct {
	Key         string
	Size        int64
	Checksum    string // hex sha256
	ContentType string
}

// ObjectKey returns the key for a file: orgs/<org>/files/<id>-<name>. The
// name is reduced to a safe base name so user input cannot escape the prefix.
func ObjectKey(orgID, fileID, filename string) string {
	return "orgs/" + orgID + "/files/" + fileID + "-" + SanitizeFilename(filename)
}

// SanitizeFilename keeps letters, digits, dot, dash and underscore of the
// base name and replaces everything else with an underscore.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "file"
	}
	if len(out) > 128 {
		out = out[len(out)-128:]
	}
	return out
}
