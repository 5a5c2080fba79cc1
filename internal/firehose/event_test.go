package firehose

import (
	"testing"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventCommitCreate(t *testing.T) {
	msg := `{"did":"did:plc:bob","time_us":1725911162329308,"kind":"commit","commit":{"rev":"3l3qo2vutsw2b","operation":"create","collection":"app.bsky.feed.like","rkey":"3l3qo2vuowo2b","record":{"$type":"app.bsky.feed.like","createdAt":"2024-09-09T19:46:02.102Z","subject":{"cid":"bafyreidc6sydkkbchcyg62v77wbhzvb2mvytlmsychqgwf2xojjtirmzj4","uri":"at://did:plc:alice/app.bsky.feed.post/3l3pte3p2e325"}},"cid":"bafyreidwaivazkwu67xztlmuobx35hs2lnfh3kolmgfmucldvhd3sgzcqi"}}`

	e, err := ParseEvent([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, int64(1725911162329308), e.TimeUS)
	require.NotNil(t, e.Commit)
	assert.Equal(t, OpCreate, e.Commit.Operation)
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.like/3l3qo2vuowo2b", e.URI())

	like, ok := e.Commit.Record.(*bluesky.LikeRecord)
	require.True(t, ok)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3l3pte3p2e325", like.Subject.URI)
}

func TestParseEventDeleteHasNoRecord(t *testing.T) {
	msg := `{"did":"did:plc:bob","time_us":2,"kind":"commit","commit":{"rev":"r","operation":"delete","collection":"app.bsky.graph.follow","rkey":"3kf"}}`

	e, err := ParseEvent([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, OpDelete, e.Commit.Operation)
	assert.Nil(t, e.Commit.Record)
}

func TestParseEventNonCommit(t *testing.T) {
	msg := `{"did":"did:plc:bob","time_us":3,"kind":"identity","identity":{"did":"did:plc:bob","handle":"bob.test","seq":1,"time":"2024-09-05T06:11:04.870Z"}}`

	e, err := ParseEvent([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "identity", e.Kind)
	assert.Nil(t, e.Commit)
	assert.Empty(t, e.URI())
}

func TestParseEventMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":          `{"did":`,
		"no time":           `{"did":"did:plc:bob","kind":"commit","commit":{"operation":"delete","collection":"app.bsky.feed.like","rkey":"1"}}`,
		"commit missing":    `{"did":"did:plc:bob","time_us":1,"kind":"commit"}`,
		"create w/o record": `{"did":"did:plc:bob","time_us":1,"kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.like","rkey":"1"}}`,
		"bad record":        `{"did":"did:plc:bob","time_us":1,"kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.like","rkey":"1","record":{"subject":{"uri":"nope"}}}}`,
		"unknown op":        `{"did":"did:plc:bob","time_us":1,"kind":"commit","commit":{"operation":"truncate","collection":"app.bsky.feed.like","rkey":"1"}}`,
		"missing rkey":      `{"did":"did:plc:bob","time_us":1,"kind":"commit","commit":{"operation":"delete","collection":"app.bsky.feed.like"}}`,
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(msg))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}
