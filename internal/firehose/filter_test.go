package firehose

import (
	"context"
	"errors"
	"testing"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNamespace struct {
	dids     map[string]struct{}
	mirrored map[string]bool
	err      error
}

func (f *fakeNamespace) LocalDIDs(context.Context) (map[string]struct{}, error) {
	return f.dids, nil
}

func (f *fakeNamespace) GetInteraction(_ context.Context, key string) (*domain.Interaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.mirrored[key] {
		return &domain.Interaction{RecordURI: key}, nil
	}
	return nil, domain.ErrNotFound
}

const (
	localPost  = "at://did:plc:alice/app.bsky.feed.post/1"
	remotePost = "at://did:plc:carol/app.bsky.feed.post/1"
)

func create(collection string, r bluesky.Record) *Event {
	return &Event{DID: "did:plc:bob", TimeUS: 1, Kind: kindCommit, Commit: &Commit{
		Operation: OpCreate, Collection: collection, RKey: "rk", Record: r,
	}}
}

func remove(collection string) *Event {
	return &Event{DID: "did:plc:bob", TimeUS: 1, Kind: kindCommit, Commit: &Commit{
		Operation: OpDelete, Collection: collection, RKey: "rk",
	}}
}

func TestRelevance(t *testing.T) {
	ns := &fakeNamespace{
		dids: map[string]struct{}{"did:plc:alice": {}},
		mirrored: map[string]bool{
			"at://did:plc:bob/app.bsky.feed.like/rk":       true,
			"at://did:plc:bob/app.bsky.feed.post/rk#quote": true,
		},
	}
	view, err := NewFilter(ns).Snapshot(context.Background())
	require.NoError(t, err)

	quoteOf := func(uri string) *bluesky.PostRecord {
		raw := `{"text":"q","embed":{"$type":"app.bsky.embed.record","record":{"uri":"` + uri + `","cid":"c"}}}`
		r, err := bluesky.DecodeRecord(bluesky.CollectionPost, []byte(raw))
		require.NoError(t, err)
		return r.(*bluesky.PostRecord)
	}

	tests := []struct {
		name  string
		event *Event
		want  bool
	}{
		{"like on local post", create(bluesky.CollectionLike, &bluesky.LikeRecord{Subject: bluesky.StrongRef{URI: localPost}}), true},
		{"like on remote post", create(bluesky.CollectionLike, &bluesky.LikeRecord{Subject: bluesky.StrongRef{URI: remotePost}}), false},
		{"repost on local post", create(bluesky.CollectionRepost, &bluesky.RepostRecord{Subject: bluesky.StrongRef{URI: localPost}}), true},
		{"follow of local profile", create(bluesky.CollectionFollow, &bluesky.FollowRecord{Subject: "did:plc:alice"}), true},
		{"follow of stranger", create(bluesky.CollectionFollow, &bluesky.FollowRecord{Subject: "did:plc:zed"}), false},
		{"reply to local parent", create(bluesky.CollectionPost, &bluesky.PostRecord{Reply: &bluesky.ReplyRef{
			Parent: bluesky.StrongRef{URI: localPost}, Root: bluesky.StrongRef{URI: remotePost},
		}}), true},
		{"reply in local thread", create(bluesky.CollectionPost, &bluesky.PostRecord{Reply: &bluesky.ReplyRef{
			Parent: bluesky.StrongRef{URI: remotePost}, Root: bluesky.StrongRef{URI: localPost},
		}}), true},
		{"reply in remote thread", create(bluesky.CollectionPost, &bluesky.PostRecord{Reply: &bluesky.ReplyRef{
			Parent: bluesky.StrongRef{URI: remotePost}, Root: bluesky.StrongRef{URI: remotePost},
		}}), false},
		{"quote of local post", create(bluesky.CollectionPost, quoteOf(localPost)), true},
		{"quote of remote post", create(bluesky.CollectionPost, quoteOf(remotePost)), false},
		{"plain post", create(bluesky.CollectionPost, &bluesky.PostRecord{Text: "hi"}), false},
		{"mirrored like delete", remove(bluesky.CollectionLike), true},
		{"unknown repost delete", remove(bluesky.CollectionRepost), false},
		{"mirrored quote delete", remove(bluesky.CollectionPost), true},
		{"other collection delete", remove("app.bsky.feed.threadgate"), false},
		{"update", &Event{Commit: &Commit{Operation: OpUpdate, Collection: bluesky.CollectionLike,
			Record: &bluesky.LikeRecord{Subject: bluesky.StrongRef{URI: localPost}}}}, false},
		{"identity event", &Event{Kind: "identity"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := view.Relevant(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelevancePropagatesLookupErrors(t *testing.T) {
	ns := &fakeNamespace{dids: map[string]struct{}{}, err: errors.New("database is locked")}
	view, err := NewFilter(ns).Snapshot(context.Background())
	require.NoError(t, err)

	_, err = view.Relevant(context.Background(), remove(bluesky.CollectionLike))
	assert.Error(t, err)
}
