package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postpilot-app/postpilot/internal/models"
)

type PostTargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) error
	Get(ctx context.Context, postID int64, platform string) (*models.PostTarget, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error)
	Claim(ctx context.Context, postID int64, platform string) (bool, error)
	RecordOutcome(ctx context.Context, postID int64, platform, status, externalID, errorKind, errorMessage string) (string, error)
	ResetForRetry(ctx context.Context, postID int64, platform string) (bool, error)
}

type postTargetRepository struct {
	db *sql.DB
}

func NewPostTargetRepository(db *sql.DB) PostTargetRepository {
	return &postTargetRepository{db: db}
}

func (r *postTargetRepository) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) error {
	var err error

	query := `
		INSERT INTO post_targets (post_id, platform, title, caption, tags, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, target.PostID, target.Platform, target.Title, target.Caption, target.Tags, target.Status)
	} else {
		_, err = r.db.ExecContext(ctx, query, target.PostID, target.Platform, target.Title, target.Caption, target.Tags, target.Status)
	}

	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postTargetRepository) Get(ctx context.Context, postID int64, platform string) (*models.PostTarget, error) {
	query := `SELECT post_id, platform, title, caption, tags, status, external_id, error_kind, error_message, created_at, updated_at
			FROM post_targets WHERE post_id = $1 AND platform = $2`

	var t models.PostTarget
	err := r.db.QueryRowContext(ctx, query, postID, platform).Scan(
		&t.PostID, &t.Platform, &t.Title, &t.Caption, &t.Tags, &t.Status,
		&t.ExternalID, &t.ErrorKind, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &t, nil
}

func (r *postTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	query := `SELECT post_id, platform, title, caption, tags, status, external_id, error_kind, error_message, created_at, updated_at
			FROM post_targets WHERE post_id = $1 ORDER BY platform`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		var t models.PostTarget
		err := rows.Scan(&t.PostID, &t.Platform, &t.Title, &t.Caption, &t.Tags, &t.Status,
			&t.ExternalID, &t.ErrorKind, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, &t)
	}
	return targets, rows.Err()
}

// Claim atomically moves a target from pending to in_progress. Exactly
// one caller can win for a given (post, platform), so a re-dispatched
// task after a restart cannot publish the same target twice.
func (r *postTargetRepository) Claim(ctx context.Context, postID int64, platform string) (bool, error) {
	query := `
		UPDATE post_targets
		SET status = $1,
			updated_at = CURRENT_TIMESTAMP
		WHERE post_id = $2 AND platform = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, models.TargetStatusInProgress, postID, platform, models.TargetStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

// RecordOutcome writes the target's terminal status and recomputes the
// overall post status from all target rows inside the same transaction,
// so the stored aggregate never drifts from its inputs. Returns the new
// overall status.
func (r *postTargetRepository) RecordOutcome(ctx context.Context, postID int64, platform, status, externalID, errorKind, errorMessage string) (string, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer tx.Rollback()

	updateQuery := `
		UPDATE post_targets
		SET status = $1,
			external_id = $2,
			error_kind = $3,
			error_message = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE post_id = $5 AND platform = $6
	`
	if _, err = tx.ExecContext(ctx, updateQuery, status, externalID, errorKind, errorMessage, postID, platform); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	rows, err := tx.QueryContext(ctx, `SELECT status FROM post_targets WHERE post_id = $1 FOR UPDATE`, postID)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	var targets []*models.PostTarget
	for rows.Next() {
		var t models.PostTarget
		if err := rows.Scan(&t.Status); err != nil {
			rows.Close()
			slog.Info(err.Error())
			return "", err
		}
		targets = append(targets, &t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		slog.Info(err.Error())
		return "", err
	}
	rows.Close()

	overall := models.DerivePostStatus(targets)

	if _, err = tx.ExecContext(ctx, `UPDATE posts SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, overall, postID); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return overall, nil
}

// ResetForRetry re-arms a failed target for a fresh single-platform
// attempt. A still-pending target matches too, so a retry whose
// follow-up dispatch was lost can be requested again; targets that are
// in flight or already published match nothing.
func (r *postTargetRepository) ResetForRetry(ctx context.Context, postID int64, platform string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	defer tx.Rollback()

	query := `
		UPDATE post_targets
		SET status = $1,
			external_id = '',
			error_kind = '',
			error_message = '',
			updated_at = CURRENT_TIMESTAMP
		WHERE post_id = $2 AND platform = $3 AND status IN ($4, $5)
	`
	result, err := tx.ExecContext(ctx, query, models.TargetStatusPending, postID, platform, models.TargetStatusFailed, models.TargetStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	if affected != 1 {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `UPDATE posts SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		models.PostStatusPublishing, postID); err != nil {
		slog.Info(err.Error())
		return false, err
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return true, nil
}
