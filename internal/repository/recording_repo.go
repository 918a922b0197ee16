package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/telecare/consultation/internal/models"
)

// RecordingRepository persistance interface for uploaded audio artifacts.
type RecordingRepository interface {
	Find(ctx context.Context, id string) (models.Recording, error)
	Save(ctx context.Context, recording models.Recording) error
	SetUploaded(ctx context.Context, id, contentType string, sizeBytes int64) error
}

// NewRecordingRepository creates a new SQL RecordingRepository.
func NewRecordingRepository(db *sql.DB) RecordingRepository {
	return &recordingRepo{
		db: db,
	}
}

type recordingRepo struct {
	db *sql.DB
}

const findRecordingQuery = `
	SELECT
		id,
		room_id,
		content_type,
		size_bytes,
		created_at
	FROM recording
	WHERE
		id = ?`

func (r *recordingRepo) Find(ctx context.Context, id string) (models.Recording, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "recording_repo_find")
	defer span.Finish()

	var rec models.Recording
	err := r.db.QueryRowContext(ctx, findRecordingQuery, id).Scan(
		&rec.ID,
		&rec.RoomID,
		&rec.ContentType,
		&rec.SizeBytes,
		&rec.CreatedAt,
	)
	if err != nil {
		err = fmt.Errorf("failed to query database. %w", err)
		span.LogFields(tracelog.Error(err))
		return models.Recording{}, err
	}

	return rec, nil
}

const insertRecordingQuery = `
	INSERT INTO recording(
			id,
			room_id,
			content_type,
			size_bytes,
			created_at
		)
	VALUES
		(?, ?, ?, ?, ?)`

func (r *recordingRepo) Save(ctx context.Context, rec models.Recording) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "recording_repo_save")
	defer span.Finish()

	_, err := r.db.ExecContext(ctx, insertRecordingQuery, rec.ID, rec.RoomID, rec.ContentType, rec.SizeBytes, rec.CreatedAt)
	if err != nil {
		err = fmt.Errorf("failed to insert row into database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

const setRecordingUploadedQuery = `
	UPDATE recording
	SET
		content_type = ?,
		size_bytes = ?
	WHERE
		id = ?`

func (r *recordingRepo) SetUploaded(ctx context.Context, id, contentType string, sizeBytes int64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "recording_repo_set_uploaded")
	defer span.Finish()

	res, err := r.db.ExecContext(ctx, setRecordingUploadedQuery, contentType, sizeBytes, id)
	if err != nil {
		err = fmt.Errorf("failed to update row in database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		err = fmt.Errorf("no recording found with id %s", id)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}
