package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testReceipt struct {
	SessionID string               `cbor:"1,keyasint"`
	Account   interfaces.AccountID `cbor:"2,keyasint"`
	Digests   [][]byte             `cbor:"3,keyasint"`
	At        time.Time            `cbor:"4,keyasint"`
}

func newFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)
	return backend
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newFileBackend(t)

	data := []byte("commit receipt")
	id, err := backend.Store(ctx, data, interfaces.ReceiptType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)
	assert.FileExists(t, filepath.Join(backend.baseDir, "receipts", id.String()))

	got, err := backend.Fetch(ctx, id, interfaces.ReceiptType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("other")), interfaces.ReceiptType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
	assert.True(t, backend.Available(ctx))
}

func TestArchivePlain(t *testing.T) {
	ctx := context.Background()
	archiver, err := NewArchiver(newFileBackend(t), nil, discardLogger())
	require.NoError(t, err)

	in := testReceipt{
		SessionID: "5d1f",
		Account:   7,
		Digests:   [][]byte{{1, 2}, {3, 4}},
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	id, err := archiver.Archive(ctx, interfaces.ReceiptType, in)
	require.NoError(t, err)

	again, err := archiver.Archive(ctx, interfaces.ReceiptType, in)
	require.NoError(t, err)
	assert.Equal(t, id, again, "encoding is deterministic")

	var out testReceipt
	require.NoError(t, archiver.Open(ctx, id, interfaces.ReceiptType, &out))
	assert.Equal(t, in.SessionID, out.SessionID)
	assert.Equal(t, in.Account, out.Account)
	assert.Equal(t, in.Digests, out.Digests)
	assert.True(t, in.At.Equal(out.At))
}

func TestArchiveSealed(t *testing.T) {
	ctx := context.Background()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	stranger, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	backend := newFileBackend(t)
	archiver, err := NewArchiver(backend, []string{identity.Recipient().String()}, discardLogger())
	require.NoError(t, err)

	id, err := archiver.Archive(ctx, interfaces.ReceiptType, testReceipt{SessionID: "abc", Account: 3})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(backend.baseDir, "receipts", id.String()))
	require.NoError(t, err)
	assert.True(t, isSealed(raw))
	assert.NotContains(t, string(raw), "abc")

	var out testReceipt
	assert.ErrorIs(t, archiver.Open(ctx, id, interfaces.ReceiptType, &out), ErrSealedArchive)
	assert.Error(t, archiver.Open(ctx, id, interfaces.ReceiptType, &out, stranger))

	require.NoError(t, archiver.Open(ctx, id, interfaces.ReceiptType, &out, identity))
	assert.Equal(t, "abc", out.SessionID)
	assert.Equal(t, interfaces.AccountID(3), out.Account)
}

func TestArchiverRejectsBadRecipient(t *testing.T) {
	_, err := NewArchiver(newFileBackend(t), []string{"not-a-key"}, discardLogger())
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	dir := t.TempDir()

	backend, err := factory.CreateMultiBackend([]string{"file://" + dir})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = factory.CreateMultiBackend([]string{
		"file://" + filepath.Join(dir, "a"),
		"file://" + filepath.Join(dir, "b"),
	})
	require.NoError(t, err)
	assert.IsType(t, &MultiStorageBackend{}, backend)

	id, err := backend.Store(context.Background(), []byte("x"), interfaces.ReceiptType)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "b", "receipts", id.String()))

	for _, uri := range []string{
		"ftp://host/path",
		"vault://vault.local:8200/",
		"ipfs://:5001/",
		"s3:///prefix",
	} {
		_, err := factory.CreateMultiBackend([]string{uri})
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI, uri)
	}

	_, err = factory.CreateMultiBackend(nil)
	assert.Error(t, err)
}

func TestRemoteBackendLocations(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	backend, err := factory.CreateMultiBackend([]string{"s3://AKID:SECRET@receipts/prod?region=eu-west-1&endpoint=http://minio:9000"})
	require.NoError(t, err)
	require.IsType(t, &S3Backend{}, backend)
	assert.Equal(t, "s3-receipts", backend.Name())
	assert.NotContains(t, backend.LocationURI(), "SECRET")
	assert.Contains(t, backend.LocationURI(), "region=eu-west-1")

	backend, err = factory.CreateMultiBackend([]string{"vault://vault.local:8200/secret/recovery?token=t"})
	require.NoError(t, err)
	require.IsType(t, &VaultBackend{}, backend)
	assert.Equal(t, "vault-secret/recovery", backend.Name())
	assert.Equal(t, "vault://vault.local:8200/secret/recovery", backend.LocationURI())
	assert.Equal(t, "recovery/receipts/"+interfaces.ContentID{}.String(), backend.(*VaultBackend).secretName(interfaces.ContentID{}, interfaces.ReceiptType))
}
