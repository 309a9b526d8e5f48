package git

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClient_DefaultTimeout(t *testing.T) {
	require.Equal(t, DefaultTimeout, NewClient(0).timeout)
	require.Equal(t, time.Minute, NewClient(time.Minute).timeout)
}

func TestClone_SkipsExistingPath(t *testing.T) {
	client := NewClient(time.Second)
	existing := t.TempDir()

	// No git subprocess runs for an existing path, so no git binary is needed.
	require.NoError(t, client.Clone(context.Background(), "git@example.org:ws/repo.git", existing))
}

func TestPull_RejectsNonRepository(t *testing.T) {
	client := NewClient(time.Second)
	plainDir := t.TempDir()

	err := client.Pull(context.Background(), plainDir)
	var notRepo *NotARepositoryError
	require.ErrorAs(t, err, &notRepo)
	require.Equal(t, plainDir, notRepo.Path)

	err = client.Pull(context.Background(), filepath.Join(plainDir, "missing"))
	require.True(t, errors.As(err, &notRepo))
}

func TestDedupe(t *testing.T) {
	require.Equal(t, []string{"main", "master"}, dedupe("main", "", "master", "main"))
	require.Nil(t, dedupe("", ""))
}

func TestTrimOriginPrefix(t *testing.T) {
	require.Equal(t, "main", trimOriginPrefix("origin/main"))
	require.Equal(t, "feature/x", trimOriginPrefix("origin/feature/x"))
	require.Equal(t, "main", trimOriginPrefix("main"))
	require.Equal(t, "origin/", trimOriginPrefix("origin/"))
}
