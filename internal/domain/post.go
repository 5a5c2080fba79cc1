package domain

// Post is a local post bound to its record in the AT Protocol network.
type Post struct {
	// ID is the local post id.
	ID string

	// AuthorID is the local user id of the author.
	AuthorID string

	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	// It is set when the post is first published and never changes.
	URI string

	// CID is the content identifier of the published record.
	CID string

	LikesCount   int64
	RepostsCount int64
	RepliesCount int64
	QuotesCount  int64
}

// Profile is a local user bound to a decentralized identifier.
type Profile struct {
	// ID is the local user id.
	ID string

	// DID is the user's decentralized identifier. Immutable once set.
	DID string

	// Handle is the last known handle of the user.
	Handle string

	FollowersCount int64
}
