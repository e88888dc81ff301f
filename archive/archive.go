// Package archive implements the optional post-build mirror described in
// SPEC_FULL.md §6: once a tree file is finalized, a caller-configured
// Mirror may upload it to Azure Blob Storage for off-box durability.
//
// This is grounded on massifs.MassifCommitter's CommitContext, which
// guards a conditional (create-if-absent / overwrite-by-etag) upload of an
// append-only artifact; the mirror here applies the identical discipline
// to a finished, immutable tree file, never to a file still being built.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// ErrNoMirror reports that no mirror is configured. NopMirror.Upload does
// not return it: NopMirror.Upload always returns nil.
var ErrNoMirror = errors.New("archive: no mirror configured")

// Mirror uploads a finished tree file to durable off-box storage.
type Mirror interface {
	Upload(path string) error
}

// NopMirror is the default, zero-config Mirror: it performs no upload.
type NopMirror struct{}

func (NopMirror) Upload(string) error { return nil }

// AzureBlobMirror uploads to a single well-known blob per tree file,
// overwriting only when the previously uploaded copy has the ETag this
// process last saw — the same "create if absent, overwrite by etag"
// pattern massifcommitter.go uses to guard against racy concurrent
// publication of an immutable artifact.
type AzureBlobMirror struct {
	Client      *azblob.Client
	Container   string
	BlobName    func(path string) string
	lastETag    map[string]azcore.ETag
}

// NewAzureBlobMirror constructs a mirror targeting container, naming each
// uploaded blob via blobName (defaulting to the file's base name).
func NewAzureBlobMirror(client *azblob.Client, container string, blobName func(string) string) *AzureBlobMirror {
	if blobName == nil {
		blobName = func(path string) string { return filepath.Base(path) }
	}
	return &AzureBlobMirror{
		Client:    client,
		Container: container,
		BlobName:  blobName,
		lastETag:  make(map[string]azcore.ETag),
	}
}

// Upload reads path in full and uploads it under its configured blob name.
func (m *AzureBlobMirror) Upload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	name := m.BlobName(path)
	ctx := context.Background()

	opts := &azblob.UploadFileOptions{}
	if etag, ok := m.lastETag[name]; ok {
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfMatch: &etag,
			},
		}
	} else {
		none := azcore.ETagAny
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: &none,
			},
		}
	}

	resp, err := m.Client.UploadFile(ctx, m.Container, name, f, opts)
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", name, err)
	}
	if resp.ETag != nil {
		m.lastETag[name] = *resp.ETag
	}
	return nil
}
