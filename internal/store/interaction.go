package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// counterColumns maps each interaction type to the aggregate counter it
// drives on its subject table.
var counterColumns = map[domain.InteractionType]string{
	domain.InteractionLike:   "likes_count",
	domain.InteractionRepost: "reposts_count",
	domain.InteractionReply:  "replies_count",
	domain.InteractionQuote:  "quotes_count",
	domain.InteractionFollow: "followers_count",
}

var subjectTables = map[domain.SubjectKind]string{
	domain.SubjectPost:    "posts",
	domain.SubjectProfile: "profiles",
}

type interactionRow struct {
	ID          string `db:"id"`
	RecordURI   string `db:"record_uri"`
	Type        string `db:"interaction_type"`
	ActorDID    string `db:"actor_did"`
	SubjectURI  string `db:"subject_uri"`
	SubjectKind string `db:"subject_kind"`
	SubjectID   string `db:"subject_id"`
	Metadata    string `db:"metadata"`
	CreatedAt   int64  `db:"created_at"`
}

func (r interactionRow) toDomain() (*domain.Interaction, error) {
	in := &domain.Interaction{
		ID:          r.ID,
		Type:        domain.InteractionType(r.Type),
		RecordURI:   r.RecordURI,
		ActorDID:    r.ActorDID,
		SubjectURI:  r.SubjectURI,
		SubjectKind: domain.SubjectKind(r.SubjectKind),
		SubjectID:   r.SubjectID,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &in.Metadata); err != nil {
			return nil, fmt.Errorf("decode interaction metadata: %w", err)
		}
	}
	return in, nil
}

const interactionColumns = `id, record_uri, interaction_type, actor_did, subject_uri, subject_kind, subject_id, metadata, created_at`

// GetInteraction returns the interaction stored under recordURI.
func (s *Store) GetInteraction(ctx context.Context, recordURI string) (*domain.Interaction, error) {
	return getInteraction(ctx, s.db, recordURI)
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getInteraction(ctx context.Context, q queryer, recordURI string) (*domain.Interaction, error) {
	var row interactionRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT `+interactionColumns+` FROM federated_interactions WHERE record_uri = ?`), recordURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction %s: %w", recordURI, err)
	}
	return row.toDomain()
}

// FindInteraction returns the interaction actorDID created against subjectURI.
func (s *Store) FindInteraction(ctx context.Context, actorDID string, typ domain.InteractionType, subjectURI string) (*domain.Interaction, error) {
	var row interactionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+interactionColumns+` FROM federated_interactions
		WHERE actor_did = ? AND interaction_type = ? AND subject_uri = ?
		ORDER BY created_at DESC
		LIMIT 1`), actorDID, string(typ), subjectURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s interaction by %s on %s: %w", typ, actorDID, subjectURI, err)
	}
	return row.toDomain()
}

// ApplyInteraction inserts the interaction and increments its counter in one
// transaction. The unique index on record_uri makes the insert a no-op for a
// key that already exists, in which case the counter is left alone and false
// is returned.
func (s *Store) ApplyInteraction(ctx context.Context, in *domain.Interaction) (bool, error) {
	if !in.Type.Valid() {
		return false, fmt.Errorf("unknown interaction type %q", in.Type)
	}
	if in.RecordURI == "" {
		return false, fmt.Errorf("interaction record uri is required")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.SubjectKind == "" {
		in.SubjectKind = in.Type.SubjectKind()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	metadata := "{}"
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode interaction metadata: %w", err)
		}
		metadata = string(raw)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO federated_interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_uri) DO NOTHING`),
		in.ID, in.RecordURI, string(in.Type), in.ActorDID, in.SubjectURI,
		string(in.SubjectKind), in.SubjectID, metadata, toMillis(in.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert interaction %s: %w", in.RecordURI, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert interaction %s: %w", in.RecordURI, err)
	}
	if inserted == 0 {
		return false, nil
	}

	if in.Local() {
		if err := adjustCounter(ctx, tx, in, 1); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// RetractInteraction deletes the interaction stored under recordURI and
// decrements its counter in one transaction.
func (s *Store) RetractInteraction(ctx context.Context, recordURI string) (*domain.Interaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	in, err := getInteraction(ctx, tx, recordURI)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM federated_interactions WHERE record_uri = ?`), recordURI)
	if err != nil {
		return nil, fmt.Errorf("delete interaction %s: %w", recordURI, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("delete interaction %s: %w", recordURI, err)
	}
	if deleted == 0 {
		return nil, domain.ErrNotFound
	}

	if in.Local() {
		if err := adjustCounter(ctx, tx, in, -1); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return in, nil
}

// adjustCounter moves the subject's counter by one in either direction,
// never below zero.
func adjustCounter(ctx context.Context, tx *sqlx.Tx, in *domain.Interaction, delta int) error {
	column, ok := counterColumns[in.Type]
	if !ok {
		return fmt.Errorf("no counter for interaction type %q", in.Type)
	}
	table, ok := subjectTables[in.SubjectKind]
	if !ok {
		return fmt.Errorf("unknown subject kind %q", in.SubjectKind)
	}

	expr := column + " + 1"
	if delta < 0 {
		expr = fmt.Sprintf("CASE WHEN %[1]s > 0 THEN %[1]s - 1 ELSE 0 END", column)
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = %s WHERE id = ?`, table, column, expr)
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), in.SubjectID); err != nil {
		return fmt.Errorf("adjust %s.%s for %s: %w", table, column, in.SubjectID, err)
	}
	return nil
}
