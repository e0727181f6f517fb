// Package blob is the entry point for archive storage. It re-exports the
// core contract and selects a backend from configuration; callers outside
// this package never import the infra drivers directly.
package blob

import (
	"context"
	"fmt"

	"metagraph/internal/blob/core"
	"metagraph/internal/config"
	fsstore "metagraph/internal/infra/blob/fs"
	memstore "metagraph/internal/infra/blob/memory"
	s3store "metagraph/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	// ErrNotFound reports an unknown key.
	ErrNotFound = core.ErrNotFound
	// ErrExists reports a conditional write against an existing key.
	ErrExists = core.ErrExists
)

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch Driver(cfg.Driver) {
	case "", DriverFilesystem:
		return fsstore.New(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Prefix:    cfg.S3.Prefix,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an empty in-process store.
func NewMemory() Store { return memstore.New() }

// NewS3Mock returns an S3 store backed by an in-process fake endpoint.
func NewS3Mock() Store { return s3store.NewMock(0) }
