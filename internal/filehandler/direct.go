package filehandler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cortexgw/cortex/internal/fileset"
)

// Direct is an in-process uploader over a blob store, bypassing the HTTP
// wire when the embedded handler runs inside the gateway. It produces
// the same keys and URLs as the handler, so blobs stored directly serve
// fine over /files/.
type Direct struct {
	store BlobStore
}

// NewDirect wraps a blob store as a fileset.Uploader.
func NewDirect(store BlobStore) *Direct { return &Direct{store: store} }

func (d *Direct) Upload(ctx context.Context, content []byte, filename, hash, contextID string) (fileset.UploadResult, error) {
	if hash == "" {
		hash = fileset.ContentHash(content)
	}
	key := blobKey(contextID, hash, filename)
	location, err := d.store.Put(ctx, key, content)
	if err != nil {
		return fileset.UploadResult{}, fmt.Errorf("store blob: %w", err)
	}
	return fileset.UploadResult{URL: ServePrefix + key, GCS: location, Hash: hash}, nil
}

func (d *Direct) Download(ctx context.Context, fileURL string) ([]byte, error) {
	key, ok := keyFromURL(fileURL)
	if !ok {
		return nil, fmt.Errorf("invalid file url %q", fileURL)
	}
	content, err := d.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, fileset.ErrNotFound
		}
		return nil, err
	}
	return content, nil
}

func (d *Direct) Delete(ctx context.Context, fileURL string) error {
	key, ok := keyFromURL(fileURL)
	if !ok {
		return fmt.Errorf("invalid file url %q", fileURL)
	}
	if err := d.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrBlobNotFound) {
		return err
	}
	return nil
}
