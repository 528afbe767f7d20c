package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileinasnap/pkg/domain"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestGormStoreContract(t *testing.T) {
	dsn := os.Getenv("FILEINASNAP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FILEINASNAP_TEST_DATABASE_URL not set")
	}
	s, err := NewGormStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultFileListLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultFileListLimit, NormalizeLimit(-3))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, MaxFileListLimit, NormalizeLimit(5000))
}

func TestMimeMajorType(t *testing.T) {
	assert.Equal(t, "image", MimeMajorType("image/jpeg"))
	assert.Equal(t, "unknown", MimeMajorType(""))
	assert.Equal(t, "unknown", MimeMajorType("/x"))
	assert.Equal(t, "text", MimeMajorType("text"))
}

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	owner := "user-" + uuid.NewString()
	other := "user-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("profiles", func(t *testing.T) {
		_, ok, err := s.GetProfile(ctx, owner)
		require.NoError(t, err)
		assert.False(t, ok)

		p := domain.Profile{
			ID:               uuid.NewString(),
			UserID:           owner,
			Email:            "owner@example.com",
			SubscriptionTier: domain.DefaultTier,
			Metadata:         map[string]any{"theme": "dark"},
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		require.NoError(t, s.CreateProfile(ctx, p))

		dup := p
		dup.ID = uuid.NewString()
		err = s.CreateProfile(ctx, dup)
		assert.True(t, errors.Is(err, ErrDuplicate), "expected duplicate, got %v", err)

		got, ok, err := s.GetProfile(ctx, owner)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, "dark", got.Metadata["theme"])

		name := "Owner Name"
		tier := "pro"
		updated, ok, err := s.UpdateProfile(ctx, owner, domain.ProfileUpdate{FullName: &name, SubscriptionTier: &tier})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, name, updated.FullName)
		assert.Equal(t, tier, updated.SubscriptionTier)

		_, ok, err = s.UpdateProfile(ctx, other, domain.ProfileUpdate{FullName: &name})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	folderA := domain.Folder{ID: uuid.NewString(), OwnerID: owner, Name: "Vacation", CreatedAt: now}
	folderB := domain.Folder{ID: uuid.NewString(), OwnerID: owner, Name: "Work", CreatedAt: now.Add(time.Second)}
	foreign := domain.Folder{ID: uuid.NewString(), OwnerID: other, Name: "Theirs", CreatedAt: now}

	t.Run("folders", func(t *testing.T) {
		require.NoError(t, s.CreateFolder(ctx, folderA))
		require.NoError(t, s.CreateFolder(ctx, folderB))
		require.NoError(t, s.CreateFolder(ctx, foreign))

		folders, err := s.ListFolders(ctx, owner)
		require.NoError(t, err)
		require.Len(t, folders, 2)
		assert.Equal(t, "Vacation", folders[0].Name)
		assert.Equal(t, 0, folders[0].FileCount)

		_, ok, err := s.GetFolder(ctx, owner, foreign.ID)
		require.NoError(t, err)
		assert.False(t, ok, "foreign folder must not be visible")

		n, err := s.CountFolders(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	fileA := domain.File{
		ID: uuid.NewString(), OwnerID: owner, FolderID: folderA.ID,
		ObjectKey: owner + "/" + folderA.ID + "/a1-beach.jpg", Filename: "beach.jpg",
		Bytes: 1024, Mime: "image/jpeg", Status: domain.FileStatusUploaded, CreatedAt: now,
	}
	fileB := domain.File{
		ID: uuid.NewString(), OwnerID: owner, FolderID: folderB.ID,
		ObjectKey: owner + "/" + folderB.ID + "/b2-notes.txt", Filename: "notes.txt",
		Bytes: 10, Mime: "text/plain", Status: domain.FileStatusUploaded, CreatedAt: now.Add(time.Second),
	}

	t.Run("files", func(t *testing.T) {
		require.NoError(t, s.CreateFile(ctx, fileA))
		require.NoError(t, s.CreateFile(ctx, fileB))

		dup := fileA
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, s.CreateFile(ctx, dup), ErrDuplicate)

		files, err := s.ListFiles(ctx, owner, domain.FileFilter{})
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, fileB.ID, files[0].ID, "newest first")

		files, err = s.ListFiles(ctx, owner, domain.FileFilter{FolderID: folderA.ID})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "beach.jpg", files[0].Filename)

		files, err = s.ListFiles(ctx, owner, domain.FileFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, files, 1)

		folder, ok, err := s.GetFolder(ctx, owner, folderA.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, folder.FileCount)

		_, ok, err = s.GetFile(ctx, other, fileA.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		summary, err := s.SummarizeFiles(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Count)
		assert.Equal(t, int64(1034), summary.TotalBytes)
		assert.Equal(t, 1, summary.ByType["image"])
		assert.Equal(t, 1, summary.ByType["text"])

		deleted, err := s.DeleteFile(ctx, other, fileA.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = s.DeleteFile(ctx, owner, fileA.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		n, err := s.CountFiles(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("delete folder", func(t *testing.T) {
		deleted, err := s.DeleteFolder(ctx, other, folderB.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = s.DeleteFolder(ctx, owner, folderB.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		n, err := s.CountFiles(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	require.NoError(t, s.Ping(ctx))
}
