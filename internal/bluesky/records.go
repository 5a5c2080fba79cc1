package bluesky

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Collection NSIDs handled by this service.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionFollow = "app.bsky.graph.follow"
)

const (
	embedRecordType          = "app.bsky.embed.record"
	embedRecordWithMediaType = "app.bsky.embed.recordWithMedia"
)

// ErrMalformedRecord is returned when a record does not match the schema of
// its collection.
var ErrMalformedRecord = errors.New("malformed record")

// Record is a record in one of the supported collections. The concrete type
// determines the collection: *LikeRecord, *RepostRecord, *FollowRecord or
// *PostRecord.
type Record interface {
	Collection() string
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// LikeRecord is the record body for app.bsky.feed.like.
type LikeRecord struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

func (*LikeRecord) Collection() string { return CollectionLike }

// RepostRecord is the record body for app.bsky.feed.repost.
type RepostRecord struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

func (*RepostRecord) Collection() string { return CollectionRepost }

// FollowRecord is the record body for app.bsky.graph.follow. Subject is the
// DID of the followed account.
type FollowRecord struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

func (*FollowRecord) Collection() string { return CollectionFollow }

// PostRecord is the record body for app.bsky.feed.post.
type PostRecord struct {
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Embed     *Embed    `json:"embed,omitempty"`
}

func (*PostRecord) Collection() string { return CollectionPost }

// Quote returns the record quoted by the post's embed, or nil.
func (p *PostRecord) Quote() *StrongRef {
	if p.Embed == nil {
		return nil
	}
	return p.Embed.quoted
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// Embed is a post embed. Only record and recordWithMedia embeds are
// interpreted; other embed types are carried through untouched.
type Embed struct {
	Type   string          `json:"$type"`
	Record json.RawMessage `json:"record,omitempty"`

	quoted *StrongRef
}

// marshalTyped encodes v as a JSON object with a leading $type field.
func marshalTyped(collection string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(collection)
	if err != nil {
		return nil, err
	}
	if string(body) == "{}" {
		return []byte(`{"$type":` + string(typ) + `}`), nil
	}
	return append([]byte(`{"$type":`+string(typ)+`,`), body[1:]...), nil
}

// EncodeRecord returns the JSON body of a record including its $type.
func EncodeRecord(r Record) ([]byte, error) {
	return marshalTyped(r.Collection(), r)
}

// DecodeRecord parses a record body for the given collection and validates
// the fields this service depends on. Unsupported collections return
// (nil, nil).
func DecodeRecord(collection string, raw []byte) (Record, error) {
	switch collection {
	case CollectionLike:
		var r LikeRecord
		if err := decodeStrict(raw, collection, &r); err != nil {
			return nil, err
		}
		if err := validateRef("subject", r.Subject); err != nil {
			return nil, err
		}
		return &r, nil

	case CollectionRepost:
		var r RepostRecord
		if err := decodeStrict(raw, collection, &r); err != nil {
			return nil, err
		}
		if err := validateRef("subject", r.Subject); err != nil {
			return nil, err
		}
		return &r, nil

	case CollectionFollow:
		var r FollowRecord
		if err := decodeStrict(raw, collection, &r); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(r.Subject, "did:") {
			return nil, fmt.Errorf("%w: follow subject %q is not a DID", ErrMalformedRecord, r.Subject)
		}
		return &r, nil

	case CollectionPost:
		var r PostRecord
		if err := decodeStrict(raw, collection, &r); err != nil {
			return nil, err
		}
		if r.Reply != nil {
			if err := validateRef("reply.parent", r.Reply.Parent); err != nil {
				return nil, err
			}
			if err := validateRef("reply.root", r.Reply.Root); err != nil {
				return nil, err
			}
		}
		if r.Embed != nil {
			quoted, err := r.Embed.quotedRecord()
			if err != nil {
				return nil, err
			}
			r.Embed.quoted = quoted
		}
		return &r, nil

	default:
		return nil, nil
	}
}

func decodeStrict(raw []byte, collection string, v any) error {
	var head struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if head.Type != "" && head.Type != collection {
		return fmt.Errorf("%w: $type %q in collection %s", ErrMalformedRecord, head.Type, collection)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return nil
}

func validateRef(field string, ref StrongRef) error {
	if _, err := ParseATURI(ref.URI); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, field, err)
	}
	return nil
}

func (e *Embed) quotedRecord() (*StrongRef, error) {
	if len(e.Record) == 0 {
		return nil, nil
	}
	switch e.Type {
	case embedRecordType:
		var ref StrongRef
		if err := json.Unmarshal(e.Record, &ref); err != nil {
			return nil, fmt.Errorf("%w: embed.record: %v", ErrMalformedRecord, err)
		}
		if err := validateRef("embed.record", ref); err != nil {
			return nil, err
		}
		return &ref, nil

	case embedRecordWithMediaType:
		var inner struct {
			Record StrongRef `json:"record"`
		}
		if err := json.Unmarshal(e.Record, &inner); err != nil {
			return nil, fmt.Errorf("%w: embed.record.record: %v", ErrMalformedRecord, err)
		}
		if err := validateRef("embed.record.record", inner.Record); err != nil {
			return nil, err
		}
		return &inner.Record, nil

	default:
		return nil, nil
	}
}
