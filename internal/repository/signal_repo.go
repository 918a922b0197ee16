package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/telecare/consultation/internal/models"
)

// SignalRepository persistance interface for signaling messages.
type SignalRepository interface {
	Append(ctx context.Context, message models.SignalingMessage) error
	Poll(ctx context.Context, roomID, excludeSenderID string) ([]models.SignalingMessage, error)
	DeleteAll(ctx context.Context, roomID string) error
}

// NewSignalRepository creates a new SQL SignalRepository.
func NewSignalRepository(db *sql.DB) SignalRepository {
	return &signalRepo{
		db: db,
	}
}

type signalRepo struct {
	db *sql.DB
}

const insertSignalQuery = `
	INSERT INTO signaling_message(
			id,
			room_id,
			sender_id,
			type,
			payload,
			inserted_at
		)
	VALUES
		(?, ?, ?, ?, ?, ?)`

func (r *signalRepo) Append(ctx context.Context, m models.SignalingMessage) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "signal_repo_append")
	defer span.Finish()

	_, err := r.db.ExecContext(ctx, insertSignalQuery, m.ID, m.RoomID, m.SenderID, m.Type, m.Payload, m.InsertedAt)
	if err != nil {
		err = fmt.Errorf("failed to insert row into database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

const pollSignalsQuery = `
	SELECT
		id,
		room_id,
		sender_id,
		type,
		payload,
		inserted_at
	FROM signaling_message
	WHERE
		room_id = ?
		AND sender_id != ?
	ORDER BY
		inserted_at ASC, id ASC`

func (r *signalRepo) Poll(ctx context.Context, roomID, excludeSenderID string) ([]models.SignalingMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "signal_repo_poll")
	defer span.Finish()

	rows, err := r.db.QueryContext(ctx, pollSignalsQuery, roomID, excludeSenderID)
	if err != nil {
		err = fmt.Errorf("failed to query for signaling messages %w", err)
		span.LogFields(tracelog.Error(err))
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.SignalingMessage, 0)
	for rows.Next() {
		var m models.SignalingMessage
		err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Type, &m.Payload, &m.InsertedAt)
		if err != nil {
			err = fmt.Errorf("failed to scan signaling message %w", err)
			span.LogFields(tracelog.Error(err))
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, nil
}

const deleteSignalsQuery = `
	DELETE FROM signaling_message
	WHERE
		room_id = ?`

func (r *signalRepo) DeleteAll(ctx context.Context, roomID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "signal_repo_delete_all")
	defer span.Finish()

	_, err := r.db.ExecContext(ctx, deleteSignalsQuery, roomID)
	if err != nil {
		err = fmt.Errorf("failed to delete signaling messages %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}
