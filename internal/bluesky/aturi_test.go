package bluesky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseATURI(t *testing.T) {
	u, err := ParseATURI("at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b")
	require.NoError(t, err)
	assert.Equal(t, ATURI{Authority: "did:plc:abc", Collection: CollectionPost, RKey: "3l3qo2vuowo2b"}, u)
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b", u.String())

	u, err = ParseATURI("at://did:plc:abc")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc", u.Authority)
	assert.Empty(t, u.RKey)

	u, err = ParseATURI("at://did:plc:abc/app.bsky.feed.post/xyz#quote")
	require.NoError(t, err)
	assert.Equal(t, "xyz", u.RKey)
}

func TestParseATURIErrors(t *testing.T) {
	for _, in := range []string{"", "https://bsky.app", "at://", "at:///app.bsky.feed.post/x", "at://a/b/c/d"} {
		_, err := ParseATURI(in)
		assert.Error(t, err, in)
	}
	assert.Empty(t, AuthorityOf("nope"))
	assert.Equal(t, "did:plc:abc", AuthorityOf("at://did:plc:abc/app.bsky.feed.like/1"))
}
