package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProvider(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLocalProvider(dir), dir
}

func TestLocalProvider_PutObject(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	bucket := "classifiers"
	key := "set-1/ideas.bin"
	content := []byte("serialized classifier")

	err := provider.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, bucket, "set-1", "ideas.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalProvider_GetObject(t *testing.T) {
	provider, _ := setupTestProvider(t)

	bucket := "classifiers"
	key := "set-1/grammar.bin"
	content := []byte("blob")

	require.NoError(t, provider.PutObject(context.Background(), bucket, key, bytes.NewReader(content)))

	data, err := provider.GetObject(context.Background(), bucket, key)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = provider.GetObject(context.Background(), bucket, "set-1/missing.bin")
	assert.Error(t, err)
}

func TestLocalProvider_ListObjects(t *testing.T) {
	provider, _ := setupTestProvider(t)

	bucket := "classifiers"
	keys := []string{"set-1/ideas.bin", "set-1/grammar.bin", "set-2/ideas.bin"}
	for _, key := range keys {
		require.NoError(t, provider.PutObject(context.Background(), bucket, key, bytes.NewReader([]byte("blob"))))
	}

	objects, err := provider.ListObjects(context.Background(), bucket, "set-1/")
	require.NoError(t, err)

	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	assert.ElementsMatch(t, []string{"set-1/ideas.bin", "set-1/grammar.bin"}, names)
}

func TestLocalProvider_CreateBucket(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	require.NoError(t, provider.CreateBucket(context.Background(), "classifiers"))

	info, err := os.Stat(filepath.Join(baseDir, "classifiers"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
