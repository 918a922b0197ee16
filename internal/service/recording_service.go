package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/id"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/telecare/consultation/internal/models"
	"github.com/telecare/consultation/internal/repository"
)

var (
	recordingBytesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recording_bytes_stored_total",
			Help: "The total number of recording bytes written to storage",
		},
	)
)

// RecordingService handles upload destinations and storage of call audio
// artifacts. Artifacts are stored on local disk keyed by recording id,
// metadata is persisted for downstream processing.
type RecordingService struct {
	RoomRepo      repository.RoomRepository
	RecordingRepo repository.RecordingRepository
	StorageDir    string
	BaseURL       string
}

// CreateUploadDestination reserves a recording id for a room and returns
// the URL the audio blob should be PUT to.
func (s *RecordingService) CreateUploadDestination(ctx context.Context, roomID, userID string) (models.UploadDestination, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.RecordingService.CreateUploadDestination")
	defer span.Finish()

	room, err := s.RoomRepo.Find(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = httputil.PreconditionRequiredError(err)
		}
		span.LogFields(tracelog.Error(err))
		return models.UploadDestination{}, err
	}

	if !room.IsParticipant(userID) {
		err = fmt.Errorf("user %s is not a participant of room %s", userID, roomID)
		span.LogFields(tracelog.Error(err))
		return models.UploadDestination{}, httputil.UnauthorizedError(err)
	}

	recording := models.Recording{
		ID:        id.New(),
		RoomID:    roomID,
		CreatedAt: time.Now().UTC(),
	}

	err = s.RecordingRepo.Save(ctx, recording)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.UploadDestination{}, err
	}

	return models.UploadDestination{
		RecordingID: recording.ID,
		URL:         fmt.Sprintf("%s/v1/recordings/%s", s.BaseURL, recording.ID),
	}, nil
}

// StoreUpload writes the uploaded audio blob to storage and records its
// size and content type.
func (s *RecordingService) StoreUpload(ctx context.Context, recordingID, contentType string, body io.Reader) (models.Recording, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.RecordingService.StoreUpload")
	defer span.Finish()

	recording, err := s.RecordingRepo.Find(ctx, recordingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = httputil.NotFoundError(err)
		}
		span.LogFields(tracelog.Error(err))
		return models.Recording{}, err
	}

	size, err := s.writeArtifact(recording.ID, body)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Recording{}, err
	}

	if size == 0 {
		err = errors.New("uploaded recording is empty")
		span.LogFields(tracelog.Error(err))
		return models.Recording{}, httputil.BadRequestError(err)
	}

	if contentType == "" {
		contentType = "audio/webm"
	}

	err = s.RecordingRepo.SetUploaded(ctx, recording.ID, contentType, size)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Recording{}, err
	}

	recordingBytesStored.Add(float64(size))
	recording.ContentType = contentType
	recording.SizeBytes = size
	return recording, nil
}

func (s *RecordingService) writeArtifact(recordingID string, body io.Reader) (int64, error) {
	err := os.MkdirAll(s.StorageDir, 0o755)
	if err != nil {
		return 0, fmt.Errorf("failed to create storage directory %w", err)
	}

	path := filepath.Join(s.StorageDir, recordingID)
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create artifact file %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, body)
	if err != nil {
		return 0, fmt.Errorf("failed to write artifact %w", err)
	}

	return size, nil
}
