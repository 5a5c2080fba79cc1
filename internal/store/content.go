package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/google/uuid"
)

type postRow struct {
	ID           string `db:"id"`
	AuthorID     string `db:"author_id"`
	URI          string `db:"uri"`
	CID          string `db:"cid"`
	LikesCount   int64  `db:"likes_count"`
	RepostsCount int64  `db:"reposts_count"`
	RepliesCount int64  `db:"replies_count"`
	QuotesCount  int64  `db:"quotes_count"`
}

func (r postRow) toDomain() *domain.Post {
	return &domain.Post{
		ID:           r.ID,
		AuthorID:     r.AuthorID,
		URI:          r.URI,
		CID:          r.CID,
		LikesCount:   r.LikesCount,
		RepostsCount: r.RepostsCount,
		RepliesCount: r.RepliesCount,
		QuotesCount:  r.QuotesCount,
	}
}

type profileRow struct {
	ID             string `db:"id"`
	DID            string `db:"did"`
	Handle         string `db:"handle"`
	FollowersCount int64  `db:"followers_count"`
}

func (r profileRow) toDomain() *domain.Profile {
	return &domain.Profile{
		ID:             r.ID,
		DID:            r.DID,
		Handle:         r.Handle,
		FollowersCount: r.FollowersCount,
	}
}

const postColumns = `id, author_id, uri, cid, likes_count, reposts_count, replies_count, quotes_count`

// GetPostByURI returns the local post bound to uri.
func (s *Store) GetPostByURI(ctx context.Context, uri string) (*domain.Post, error) {
	var row postRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+postColumns+` FROM posts WHERE uri = ?`), uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", uri, err)
	}
	return row.toDomain(), nil
}

// CreatePost binds a published record as a local post. An empty ID is
// filled in.
func (s *Store) CreatePost(ctx context.Context, post *domain.Post) error {
	if post.URI == "" {
		return fmt.Errorf("post uri is required")
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO posts (id, author_id, uri, cid, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		post.ID, post.AuthorID, post.URI, post.CID, toMillis(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// GetProfile returns the profile of a local user.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return s.getProfile(ctx, `id = ?`, userID)
}

// GetProfileByDID returns the local profile bound to did.
func (s *Store) GetProfileByDID(ctx context.Context, did string) (*domain.Profile, error) {
	return s.getProfile(ctx, `did = ?`, did)
}

func (s *Store) getProfile(ctx context.Context, where string, arg string) (*domain.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, did, handle, followers_count FROM profiles WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", arg, err)
	}
	return row.toDomain(), nil
}

// BindProfile binds a local user to a DID. The handle of an existing
// binding is refreshed; the DID itself never changes.
func (s *Store) BindProfile(ctx context.Context, profile *domain.Profile) error {
	if profile.ID == "" || profile.DID == "" {
		return fmt.Errorf("profile id and did are required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing []profileRow
	if err := tx.SelectContext(ctx, &existing, tx.Rebind(`
		SELECT id, did, handle, followers_count FROM profiles WHERE id = ? OR did = ?`),
		profile.ID, profile.DID,
	); err != nil {
		return fmt.Errorf("lookup profile binding: %w", err)
	}

	switch {
	case len(existing) == 0:
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO profiles (id, did, handle, created_at) VALUES (?, ?, ?, ?)`),
			profile.ID, profile.DID, profile.Handle, toMillis(s.now()),
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrBindingConflict
			}
			return fmt.Errorf("insert profile: %w", err)
		}
	case len(existing) == 1 && existing[0].ID == profile.ID && existing[0].DID == profile.DID:
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE profiles SET handle = ? WHERE id = ?`),
			profile.Handle, profile.ID,
		); err != nil {
			return fmt.Errorf("update profile handle: %w", err)
		}
	default:
		return domain.ErrBindingConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LocalDIDs returns the DIDs of every local profile.
func (s *Store) LocalDIDs(ctx context.Context) (map[string]struct{}, error) {
	var dids []string
	if err := s.db.SelectContext(ctx, &dids, `SELECT did FROM profiles`); err != nil {
		return nil, fmt.Errorf("list local dids: %w", err)
	}
	set := make(map[string]struct{}, len(dids))
	for _, did := range dids {
		set[did] = struct{}{}
	}
	return set, nil
}
