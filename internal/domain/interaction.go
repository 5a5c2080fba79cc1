package domain

import (
	"fmt"
	"time"
)

// InteractionType is the kind of federated interaction mirrored locally.
type InteractionType string

const (
	InteractionLike   InteractionType = "like"
	InteractionRepost InteractionType = "repost"
	InteractionReply  InteractionType = "reply"
	InteractionQuote  InteractionType = "quote"
	InteractionFollow InteractionType = "follow"
)

// SubjectKind names the local table an interaction points into.
type SubjectKind string

const (
	SubjectPost    SubjectKind = "post"
	SubjectProfile SubjectKind = "profile"
)

// QuoteKeySuffix disambiguates the quote half of a post that is both a
// reply and a quote.
const QuoteKeySuffix = "#quote"

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionLike, InteractionRepost, InteractionReply, InteractionQuote, InteractionFollow:
		return true
	}
	return false
}

// SubjectKind returns the kind of subject the interaction type targets.
func (t InteractionType) SubjectKind() SubjectKind {
	if t == InteractionFollow {
		return SubjectProfile
	}
	return SubjectPost
}

// Interaction is the local mirror of a like, repost, reply, quote or follow
// record that lives in someone's repository. RecordURI is the idempotency
// key: a row existing means the effect was applied exactly once.
type Interaction struct {
	ID string

	Type InteractionType

	// RecordURI is the AT-URI of the interaction record, suffixed with
	// QuoteKeySuffix for quotes.
	RecordURI string

	// ActorDID is the DID of the account that created the record.
	ActorDID string

	// SubjectURI is the AT-URI of the post (or the DID of the profile) the
	// interaction targets.
	SubjectURI string

	SubjectKind SubjectKind

	// SubjectID is the local post or profile id. Empty when the subject is
	// not hosted locally, in which case no counter is attached.
	SubjectID string

	Metadata map[string]string

	CreatedAt time.Time
}

// Local reports whether the interaction targets locally hosted content.
func (i *Interaction) Local() bool {
	return i.SubjectID != ""
}

// QuoteKey returns the idempotency key for the quote half of a post record.
func QuoteKey(recordURI string) string {
	return recordURI + QuoteKeySuffix
}

// RecordURI builds the AT-URI of a record.
func RecordURI(did, collection, rkey string) string {
	return fmt.Sprintf("at://%s/%s/%s", did, collection, rkey)
}
