package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrIntegrity indicates a write affected an unexpected number of rows.
// It means a logic bug or external tampering and is never swallowed.
var ErrIntegrity = errors.New("ledger integrity violation")

// PostingRepository tracks announcement state per fill and enforces the
// exactly-once transition to posted.
type PostingRepository struct {
	q   Querier
	log zerolog.Logger
}

// NewPostingRepository creates a new posting repository
func NewPostingRepository(q Querier, log zerolog.Logger) *PostingRepository {
	return &PostingRepository{
		q:   q,
		log: log.With().Str("repo", "posting").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostingRepository) WithTx(tx *sql.Tx) *PostingRepository {
	return &PostingRepository{q: tx, log: r.log}
}

// UnpostedFillIDs returns the identities of fills not yet announced,
// oldest update first, so announcements preserve chronological order.
func (r *PostingRepository) UnpostedFillIDs() ([]string, error) {
	rows, err := r.q.Query(`
		SELECT fill_id FROM posting_state
		WHERE posted = 0
		ORDER BY updated_at ASC, fill_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get unposted fills: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan fill id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unposted fills: %w", err)
	}

	return ids, nil
}

// MarkPosted flips a fill's posting record to posted. posted_at is set on
// the first transition and never overwritten. The update must affect exactly
// one row: zero means the fill vanished or was already posted, more than one
// means the table is corrupt; both surface as ErrIntegrity.
func (r *PostingRepository) MarkPosted(fillID string, externalMessageID string) error {
	now := time.Now().UTC().Unix()

	res, err := r.q.Exec(`
		UPDATE posting_state
		SET posted = 1,
		    posted_at = COALESCE(posted_at, ?),
		    external_message_id = COALESCE(?, external_message_id),
		    updated_at = ?
		WHERE fill_id = ? AND posted = 0
	`, now, nullString(externalMessageID), now, fillID)
	if err != nil {
		return fmt.Errorf("failed to mark posted: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: mark posted for %s affected %d rows", ErrIntegrity, fillID, affected)
	}

	r.log.Debug().Str("fill_id", fillID).Msg("Fill marked posted")
	return nil
}

// Get retrieves the posting record for a fill, or nil if absent.
func (r *PostingRepository) Get(fillID string) (*PostingRecord, error) {
	var rec PostingRecord
	var posted int
	var postedAt sql.NullInt64
	var messageID sql.NullString
	var updatedAt int64

	err := r.q.QueryRow(`
		SELECT fill_id, posted, posted_at, external_message_id, updated_at
		FROM posting_state WHERE fill_id = ?
	`, fillID).Scan(&rec.FillID, &posted, &postedAt, &messageID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get posting record: %w", err)
	}

	rec.Posted = posted != 0
	if postedAt.Valid {
		t := unixToTime(postedAt.Int64)
		rec.PostedAt = &t
	}
	if messageID.Valid {
		rec.ExternalMessageID = messageID.String
	}
	rec.UpdatedAt = unixToTime(updatedAt)

	return &rec, nil
}
