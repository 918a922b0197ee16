package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/id"
	"github.com/CzarSimon/httputil/logger"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/rtcheap/dto"
	"github.com/telecare/consultation/internal/models"
	"github.com/telecare/consultation/internal/repository"
)

var log = logger.GetDefaultLogger("consultation/service")

// RoomService service to manage consultation room lifecycles.
type RoomService struct {
	RoomRepo      repository.RoomRepository
	SignalRepo    repository.SignalRepository
	RecordingRepo repository.RecordingRepository
}

// Create creates a waiting room for an appointment.
func (s *RoomService) Create(ctx context.Context, appointmentID, doctorID, patientID string) (models.Room, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.RoomService.Create")
	defer span.Finish()

	_, err := s.RoomRepo.FindByAppointment(ctx, appointmentID)
	if err == nil {
		err = fmt.Errorf("room already exists for appointment %s", appointmentID)
		span.LogFields(tracelog.Error(err))
		return models.Room{}, httputil.ConflictError(err)
	}

	room := models.Room{
		ID:            id.New(),
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		Status:        models.StatusWaiting,
	}

	err = s.RoomRepo.Save(ctx, room)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, err
	}

	return room, nil
}

// Join records a participant joining the room for an appointment. Idempotent
// per (room, role). The room becomes active once both participants have joined.
func (s *RoomService) Join(ctx context.Context, appointmentID, userID, role string) (models.Room, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.RoomService.Join")
	defer span.Finish()

	room, err := s.findRoomForParticipant(ctx, appointmentID, userID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, err
	}

	actualRole, _ := room.RoleOf(userID)
	if role != "" && role != actualRole {
		err = fmt.Errorf("user %s does not have role %s in room %s", userID, role, room.ID)
		span.LogFields(tracelog.Error(err))
		return models.Room{}, httputil.ForbiddenError(err)
	}

	if room.Status == models.StatusEnded {
		err = fmt.Errorf("room %s has ended, rejoin required", room.ID)
		span.LogFields(tracelog.Error(err))
		return models.Room{}, httputil.ConflictError(err)
	}

	now := time.Now().UTC()
	switch actualRole {
	case models.RoleDoctor:
		if room.DoctorJoinedAt == nil {
			room.DoctorJoinedAt = &now
		}
	case models.RolePatient:
		if room.PatientJoinedAt == nil {
			room.PatientJoinedAt = &now
		}
	}

	if room.BothJoined() {
		room.Status = models.StatusActive
	}

	err = s.RoomRepo.Update(ctx, room)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, err
	}

	return room, nil
}

// End transitions a room to ended and computes its duration. Ending an
// already ended room is a no-op that returns the recorded duration. An
// optional uploaded recording is referenced in the result so downstream
// processing can pick it up.
func (s *RoomService) End(ctx context.Context, appointmentID, userID, recordingID string) (models.EndResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.RoomService.End")
	defer span.Finish()

	room, err := s.findRoomForParticipant(ctx, appointmentID, userID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.EndResult{}, err
	}

	if room.Status == models.StatusEnded {
		span.LogFields(tracelog.String("outcome", "already-ended"))
		return models.EndResult{DurationSeconds: room.DurationSeconds}, nil
	}

	sessionRef, err := s.resolveRecordingRef(ctx, room, recordingID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.EndResult{}, err
	}

	now := time.Now().UTC()
	room.EndedAt = &now
	room.Status = models.StatusEnded
	room.DurationSeconds = 0
	if connectedAt, ok := room.ConnectedAt(); ok {
		room.DurationSeconds = int64(now.Sub(connectedAt) / time.Second)
	}

	err = s.RoomRepo.Update(ctx, room)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.EndResult{}, err
	}

	err = s.SignalRepo.DeleteAll(ctx, room.ID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.EndResult{}, err
	}

	return models.EndResult{
		DurationSeconds: room.DurationSeconds,
		SessionRef:      sessionRef,
	}, nil
}

// Rejoin resets an ended room back to waiting so the same appointment can
// host a second call without minting a new room id. Idempotent, authorized
// only for the two designated participants.
func (s *RoomService) Rejoin(ctx context.Context, roomID, userID string) (models.Room, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.RoomService.Rejoin")
	defer span.Finish()

	room, err := s.RoomRepo.Find(ctx, roomID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, asRoomLookupError(err)
	}

	if !room.IsParticipant(userID) {
		err = fmt.Errorf("user %s is not a participant of room %s", userID, roomID)
		span.LogFields(tracelog.Error(err))
		return models.Room{}, httputil.UnauthorizedError(err)
	}

	if room.Status == models.StatusWaiting {
		span.LogFields(tracelog.String("outcome", "already-waiting"))
		return room, nil
	}

	room.Status = models.StatusWaiting
	room.DoctorJoinedAt = nil
	room.PatientJoinedAt = nil
	room.EndedAt = nil
	room.DurationSeconds = 0

	err = s.RoomRepo.Update(ctx, room)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, err
	}

	err = s.SignalRepo.DeleteAll(ctx, room.ID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Room{}, err
	}

	return room, nil
}

func (s *RoomService) findRoomForParticipant(ctx context.Context, appointmentID, userID string) (models.Room, error) {
	room, err := s.RoomRepo.FindByAppointment(ctx, appointmentID)
	if err != nil {
		return models.Room{}, asRoomLookupError(err)
	}

	if !room.IsParticipant(userID) {
		err = fmt.Errorf("user %s is not a participant of room %s", userID, room.ID)
		return models.Room{}, httputil.UnauthorizedError(err)
	}

	return room, nil
}

func (s *RoomService) resolveRecordingRef(ctx context.Context, room models.Room, recordingID string) (*dto.Reference, error) {
	if recordingID == "" {
		return nil, nil
	}

	recording, err := s.RecordingRepo.Find(ctx, recordingID)
	if err != nil {
		return nil, httputil.PreconditionRequiredError(err)
	}

	if recording.RoomID != room.ID {
		err = fmt.Errorf("recording %s does not belong to room %s", recordingID, room.ID)
		return nil, httputil.BadRequestError(err)
	}

	return &dto.Reference{ID: recording.ID, System: "consultation/recording"}, nil
}

func asRoomLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return httputil.PreconditionRequiredError(err)
	}

	return err
}
