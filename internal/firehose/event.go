package firehose

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
)

// Operation is the kind of change a commit applies to a record.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

const kindCommit = "commit"

// ErrMalformedEvent is returned for messages that cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

// Event is a Jetstream message. Only commit events carry a Commit.
type Event struct {
	DID    string
	TimeUS int64
	Kind   string
	Commit *Commit
}

// Commit is a single record operation in a repository.
type Commit struct {
	Rev        string
	Operation  Operation
	Collection string
	RKey       string
	CID        string

	// Record is the decoded record for creates and updates in a supported
	// collection, nil otherwise.
	Record bluesky.Record
}

// URI returns the AT-URI of the record the commit touches.
func (e *Event) URI() string {
	if e.Commit == nil {
		return ""
	}
	return bluesky.ATURI{Authority: e.DID, Collection: e.Commit.Collection, RKey: e.Commit.RKey}.String()
}

// ParseEvent decodes a raw Jetstream message. Records are validated against
// the schema of their collection; a record that does not match makes the
// whole event malformed.
func ParseEvent(data []byte) (*Event, error) {
	var raw struct {
		DID    string          `json:"did"`
		TimeUS int64           `json:"time_us"`
		Kind   string          `json:"kind"`
		Commit json.RawMessage `json:"commit,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal event: %v", ErrMalformedEvent, err)
	}
	if raw.TimeUS <= 0 {
		return nil, fmt.Errorf("%w: missing time_us", ErrMalformedEvent)
	}

	event := &Event{
		DID:    raw.DID,
		TimeUS: raw.TimeUS,
		Kind:   raw.Kind,
	}

	if raw.Kind != kindCommit {
		return event, nil
	}
	if len(raw.Commit) == 0 {
		return nil, fmt.Errorf("%w: commit event without commit", ErrMalformedEvent)
	}

	var rc struct {
		Rev        string          `json:"rev"`
		Operation  string          `json:"operation"`
		Collection string          `json:"collection"`
		RKey       string          `json:"rkey"`
		Record     json.RawMessage `json:"record,omitempty"`
		CID        string          `json:"cid"`
	}
	if err := json.Unmarshal(raw.Commit, &rc); err != nil {
		return nil, fmt.Errorf("%w: unmarshal commit: %v", ErrMalformedEvent, err)
	}
	if raw.DID == "" || rc.Collection == "" || rc.RKey == "" {
		return nil, fmt.Errorf("%w: commit missing did, collection or rkey", ErrMalformedEvent)
	}

	commit := &Commit{
		Rev:        rc.Rev,
		Operation:  Operation(rc.Operation),
		Collection: rc.Collection,
		RKey:       rc.RKey,
		CID:        rc.CID,
	}

	switch commit.Operation {
	case OpCreate, OpUpdate:
		if len(rc.Record) == 0 {
			return nil, fmt.Errorf("%w: %s without record", ErrMalformedEvent, commit.Operation)
		}
		record, err := bluesky.DecodeRecord(rc.Collection, rc.Record)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		commit.Record = record
	case OpDelete:
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrMalformedEvent, rc.Operation)
	}

	event.Commit = commit
	return event, nil
}
