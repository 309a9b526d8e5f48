package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/gitoteko/internal/config"
)

func TestNew_Bitbucket(t *testing.T) {
	client, err := New("bitbucket", config.BitbucketSettings{APIBaseURL: config.DefaultBitbucketAPIBase})
	require.NoError(t, err)
	require.IsType(t, &BitbucketClient{}, client)
}

func TestNew_KnownButUnimplemented(t *testing.T) {
	for _, name := range []string{"github", "gitlab"} {
		_, err := New(name, config.BitbucketSettings{})
		var notImpl *NotImplementedError
		require.ErrorAs(t, err, &notImpl, "provider %s", name)
		require.Equal(t, name, notImpl.Provider)
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("sourcehut", config.BitbucketSettings{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported provider")
}
