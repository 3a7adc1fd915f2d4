package adapter

import "context"

// FileStore reads stored receipt images by their repository path.
type FileStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}
