package service_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CzarSimon/httputil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/telecare/consultation/internal/repository"
	"github.com/telecare/consultation/internal/service"
)

func TestRecordingUploadFlow(t *testing.T) {
	assert := assert.New(t)
	svc, rooms, ctx := createRecordingService(t)

	room, err := rooms.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	destination, err := svc.CreateUploadDestination(ctx, room.ID, "doc-1")
	assert.NoError(err)
	assert.NotEmpty(destination.RecordingID)
	assert.Equal("http://consultation:8080/v1/recordings/"+destination.RecordingID, destination.URL)

	blob := []byte("fake-ogg-audio-bytes")
	recording, err := svc.StoreUpload(ctx, destination.RecordingID, "audio/ogg", bytes.NewReader(blob))
	assert.NoError(err)
	assert.Equal("audio/ogg", recording.ContentType)
	assert.Equal(int64(len(blob)), recording.SizeBytes)

	stored, err := os.ReadFile(filepath.Join(svc.StorageDir, destination.RecordingID))
	assert.NoError(err)
	assert.Equal(blob, stored)

	found, err := svc.RecordingRepo.Find(ctx, destination.RecordingID)
	assert.NoError(err)
	assert.Equal(room.ID, found.RoomID)
	assert.Equal(int64(len(blob)), found.SizeBytes)
}

func TestRecordingUpload_Errors(t *testing.T) {
	assert := assert.New(t)
	svc, rooms, ctx := createRecordingService(t)

	room, err := rooms.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	// Only participants may reserve an upload destination.
	_, err = svc.CreateUploadDestination(ctx, room.ID, "other-user")
	assert.Error(err)
	httpErr, ok := err.(*httputil.Error)
	assert.True(ok)
	assert.Equal(401, httpErr.Status)

	// Uploads against unreserved recording ids are rejected.
	_, err = svc.StoreUpload(ctx, "missing-recording", "audio/ogg", bytes.NewReader([]byte("data")))
	assert.Error(err)
	httpErr, ok = err.(*httputil.Error)
	assert.True(ok)
	assert.Equal(404, httpErr.Status)

	// Empty uploads are rejected.
	destination, err := svc.CreateUploadDestination(ctx, room.ID, "pat-1")
	assert.NoError(err)

	_, err = svc.StoreUpload(ctx, destination.RecordingID, "audio/ogg", bytes.NewReader(nil))
	assert.Error(err)
	httpErr, ok = err.(*httputil.Error)
	assert.True(ok)
	assert.Equal(400, httpErr.Status)

	// A missing content type falls back to the recorder default.
	recording, err := svc.StoreUpload(ctx, destination.RecordingID, "", bytes.NewReader([]byte("data")))
	assert.NoError(err)
	assert.Equal("audio/webm", recording.ContentType)
}

func createRecordingService(t *testing.T) (service.RecordingService, service.RoomService, context.Context) {
	db := createTestDatabase()

	rooms := service.RoomService{
		RoomRepo:      repository.NewRoomRepository(db),
		SignalRepo:    repository.NewSignalRepository(db),
		RecordingRepo: repository.NewRecordingRepository(db),
	}

	svc := service.RecordingService{
		RoomRepo:      rooms.RoomRepo,
		RecordingRepo: rooms.RecordingRepo,
		StorageDir:    t.TempDir(),
		BaseURL:       "http://consultation:8080",
	}

	return svc, rooms, context.Background()
}
