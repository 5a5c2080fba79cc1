package bluesky

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecordVariants(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		raw        string
		check      func(t *testing.T, r Record)
	}{
		{
			name:       "like",
			collection: CollectionLike,
			raw:        `{"$type":"app.bsky.feed.like","subject":{"uri":"at://did:plc:a/app.bsky.feed.post/1","cid":"bafy"},"createdAt":"2026-01-01T00:00:00Z"}`,
			check: func(t *testing.T, r Record) {
				like, ok := r.(*LikeRecord)
				require.True(t, ok)
				assert.Equal(t, "at://did:plc:a/app.bsky.feed.post/1", like.Subject.URI)
			},
		},
		{
			name:       "follow",
			collection: CollectionFollow,
			raw:        `{"$type":"app.bsky.graph.follow","subject":"did:plc:a","createdAt":"2026-01-01T00:00:00Z"}`,
			check: func(t *testing.T, r Record) {
				follow, ok := r.(*FollowRecord)
				require.True(t, ok)
				assert.Equal(t, "did:plc:a", follow.Subject)
			},
		},
		{
			name:       "plain post",
			collection: CollectionPost,
			raw:        `{"$type":"app.bsky.feed.post","text":"hello","createdAt":"2026-01-01T00:00:00Z"}`,
			check: func(t *testing.T, r Record) {
				post, ok := r.(*PostRecord)
				require.True(t, ok)
				assert.Nil(t, post.Reply)
				assert.Nil(t, post.Quote())
			},
		},
		{
			name:       "reply with quote",
			collection: CollectionPost,
			raw: `{"$type":"app.bsky.feed.post","text":"both","createdAt":"2026-01-01T00:00:00Z",
				"reply":{"root":{"uri":"at://did:plc:a/app.bsky.feed.post/root","cid":"r"},"parent":{"uri":"at://did:plc:a/app.bsky.feed.post/parent","cid":"p"}},
				"embed":{"$type":"app.bsky.embed.record","record":{"uri":"at://did:plc:b/app.bsky.feed.post/q","cid":"q"}}}`,
			check: func(t *testing.T, r Record) {
				post := r.(*PostRecord)
				require.NotNil(t, post.Reply)
				assert.Equal(t, "at://did:plc:a/app.bsky.feed.post/parent", post.Reply.Parent.URI)
				require.NotNil(t, post.Quote())
				assert.Equal(t, "at://did:plc:b/app.bsky.feed.post/q", post.Quote().URI)
			},
		},
		{
			name:       "quote with media",
			collection: CollectionPost,
			raw: `{"$type":"app.bsky.feed.post","text":"pic","createdAt":"2026-01-01T00:00:00Z",
				"embed":{"$type":"app.bsky.embed.recordWithMedia","record":{"$type":"app.bsky.embed.record","record":{"uri":"at://did:plc:b/app.bsky.feed.post/q","cid":"q"}},"media":{"$type":"app.bsky.embed.images","images":[]}}}`,
			check: func(t *testing.T, r Record) {
				post := r.(*PostRecord)
				require.NotNil(t, post.Quote())
				assert.Equal(t, "at://did:plc:b/app.bsky.feed.post/q", post.Quote().URI)
			},
		},
		{
			name:       "image embed is not a quote",
			collection: CollectionPost,
			raw:        `{"$type":"app.bsky.feed.post","text":"pic","createdAt":"2026-01-01T00:00:00Z","embed":{"$type":"app.bsky.embed.images","images":[]}}`,
			check: func(t *testing.T, r Record) {
				assert.Nil(t, r.(*PostRecord).Quote())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeRecord(tt.collection, []byte(tt.raw))
			require.NoError(t, err)
			require.NotNil(t, r)
			assert.Equal(t, tt.collection, r.Collection())
			tt.check(t, r)
		})
	}
}

func TestDecodeRecordRejectsMalformed(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		raw        string
	}{
		{"like without subject", CollectionLike, `{"$type":"app.bsky.feed.like","createdAt":"x"}`},
		{"repost with bad uri", CollectionRepost, `{"subject":{"uri":"https://example.com","cid":"c"}}`},
		{"follow of a handle", CollectionFollow, `{"subject":"bob.test"}`},
		{"reply without parent", CollectionPost, `{"text":"x","reply":{"root":{"uri":"at://did:plc:a/app.bsky.feed.post/1"}}}`},
		{"wrong $type", CollectionLike, `{"$type":"app.bsky.feed.repost","subject":{"uri":"at://did:plc:a/app.bsky.feed.post/1"}}`},
		{"not json", CollectionPost, `{"text":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord(tt.collection, []byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestDecodeRecordIgnoresUnknownCollections(t *testing.T) {
	r, err := DecodeRecord("app.bsky.feed.threadgate", []byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestEncodeRecordAddsType(t *testing.T) {
	raw, err := EncodeRecord(&FollowRecord{Subject: "did:plc:a", CreatedAt: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, CollectionFollow, decoded["$type"])
	assert.Equal(t, "did:plc:a", decoded["subject"])
}
