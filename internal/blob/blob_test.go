package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metagraph/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	fs, err := Open(ctx, config.Blob{Driver: "fs", FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fs.Driver())

	mem, err := Open(ctx, config.Blob{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, mem.Driver())

	s3, err := Open(ctx, config.Blob{Driver: "s3", S3: config.S3{Bucket: "archive", Region: "eu-west-1"}})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, s3.Driver())

	_, err = Open(ctx, config.Blob{Driver: "s3"})
	assert.Error(t, err)

	_, err = Open(ctx, config.Blob{Driver: "ftp"})
	assert.Error(t, err)
}

func TestDriversShareSemantics(t *testing.T) {
	ctx := context.Background()
	fs, err := Open(ctx, config.Blob{Driver: "fs", FSRoot: t.TempDir()})
	require.NoError(t, err)

	for _, store := range []Store{NewMemory(), NewS3Mock(), fs} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			_, err := store.Head(ctx, "nope")
			assert.True(t, errors.Is(err, ErrNotFound))

			_, err = store.Put(ctx, "doc.json", bytes.NewReader([]byte("v1")), PutOptions{})
			require.NoError(t, err)
			info, err := store.Put(ctx, "doc.json", bytes.NewReader([]byte("v22")), PutOptions{})
			require.NoError(t, err)
			assert.EqualValues(t, 3, info.Size)

			_, err = store.Put(ctx, "doc.json", bytes.NewReader([]byte("x")), PutOptions{IfAbsent: true})
			assert.ErrorIs(t, err, ErrExists)

			list, err := store.List(ctx, "doc")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "doc.json", list[0].Key)
		})
	}
}
