package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/telecare/consultation/internal/models"
)

// RoomRepository persistance interface for consultation rooms.
type RoomRepository interface {
	Find(ctx context.Context, id string) (models.Room, error)
	FindByAppointment(ctx context.Context, appointmentID string) (models.Room, error)
	Save(ctx context.Context, room models.Room) error
	Update(ctx context.Context, room models.Room) error
}

// NewRoomRepository creates a new SQL RoomRepository.
func NewRoomRepository(db *sql.DB) RoomRepository {
	return &roomRepo{
		db: db,
	}
}

type roomRepo struct {
	db *sql.DB
}

const findRoomQuery = `
	SELECT
		id,
		appointment_id,
		doctor_id,
		patient_id,
		status,
		doctor_joined_at,
		patient_joined_at,
		ended_at,
		duration_seconds,
		created_at,
		updated_at
	FROM room
	WHERE
		id = ?`

func (r *roomRepo) Find(ctx context.Context, id string) (models.Room, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "room_repo_find")
	defer span.Finish()

	row := r.db.QueryRowContext(ctx, findRoomQuery, id)
	room, err := scanRoom(row)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, err
	}

	return room, nil
}

const findRoomByAppointmentQuery = `
	SELECT
		id,
		appointment_id,
		doctor_id,
		patient_id,
		status,
		doctor_joined_at,
		patient_joined_at,
		ended_at,
		duration_seconds,
		created_at,
		updated_at
	FROM room
	WHERE
		appointment_id = ?`

func (r *roomRepo) FindByAppointment(ctx context.Context, appointmentID string) (models.Room, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "room_repo_find_by_appointment")
	defer span.Finish()

	row := r.db.QueryRowContext(ctx, findRoomByAppointmentQuery, appointmentID)
	room, err := scanRoom(row)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, err
	}

	return room, nil
}

const insertRoomQuery = `
	INSERT INTO room(
			id,
			appointment_id,
			doctor_id,
			patient_id,
			status,
			created_at,
			updated_at
		)
	VALUES
		(?, ?, ?, ?, ?, ?, ?)`

func (r *roomRepo) Save(ctx context.Context, room models.Room) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "room_repo_save")
	defer span.Finish()

	now := getNow()
	_, err := r.db.ExecContext(
		ctx,
		insertRoomQuery,
		room.ID,
		room.AppointmentID,
		room.DoctorID,
		room.PatientID,
		room.Status,
		now,
		now,
	)
	if err != nil {
		err = fmt.Errorf("failed to insert row into database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

const updateRoomQuery = `
	UPDATE room
	SET
		status = ?,
		doctor_joined_at = ?,
		patient_joined_at = ?,
		ended_at = ?,
		duration_seconds = ?,
		updated_at = ?
	WHERE
		id = ?`

func (r *roomRepo) Update(ctx context.Context, room models.Room) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "room_repo_update")
	defer span.Finish()

	res, err := r.db.ExecContext(
		ctx,
		updateRoomQuery,
		room.Status,
		nullableTime(room.DoctorJoinedAt),
		nullableTime(room.PatientJoinedAt),
		nullableTime(room.EndedAt),
		nullableDuration(room),
		getNow(),
		room.ID,
	)
	if err != nil {
		err = fmt.Errorf("failed to update row in database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		err = fmt.Errorf("no room found with id %s", room.ID)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

func scanRoom(row *sql.Row) (models.Room, error) {
	var room models.Room
	var doctorJoinedAt, patientJoinedAt, endedAt sql.NullTime
	var duration sql.NullInt64

	err := row.Scan(
		&room.ID,
		&room.AppointmentID,
		&room.DoctorID,
		&room.PatientID,
		&room.Status,
		&doctorJoinedAt,
		&patientJoinedAt,
		&endedAt,
		&duration,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to query database. %w", err)
	}

	room.DoctorJoinedAt = timePointer(doctorJoinedAt)
	room.PatientJoinedAt = timePointer(patientJoinedAt)
	room.EndedAt = timePointer(endedAt)
	if duration.Valid {
		room.DurationSeconds = duration.Int64
	}

	return room, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func nullableDuration(room models.Room) sql.NullInt64 {
	if room.Status != models.StatusEnded {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: room.DurationSeconds, Valid: true}
}

func timePointer(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time
	return &value
}

func getNow() time.Time {
	return time.Now().UTC()
}
