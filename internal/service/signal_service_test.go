package service_test

import (
	"context"
	"testing"

	"github.com/CzarSimon/httputil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/telecare/consultation/internal/models"
	"github.com/telecare/consultation/internal/repository"
	"github.com/telecare/consultation/internal/service"
)

func TestPublishAndPollSignals(t *testing.T) {
	assert := assert.New(t)
	svc, rooms, ctx := createSignalService()

	room, err := rooms.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	offer, err := svc.Publish(ctx, room.ID, models.PublishSignalRequest{
		SenderID: "doc-1",
		Type:     models.TypeOffer,
		Payload:  "offer-sdp",
	})
	assert.NoError(err)
	assert.NotEmpty(offer.ID)
	assert.False(offer.InsertedAt.IsZero())

	_, err = svc.Publish(ctx, room.ID, models.PublishSignalRequest{
		SenderID: "doc-1",
		Type:     models.TypeICECandidate,
		Payload:  "cand-1",
	})
	assert.NoError(err)

	_, err = svc.Publish(ctx, room.ID, models.PublishSignalRequest{
		SenderID: "pat-1",
		Type:     models.TypeAnswer,
		Payload:  "answer-sdp",
	})
	assert.NoError(err)

	// The poll excludes the caller's own messages and preserves insertion order.
	messages, err := svc.Poll(ctx, room.ID, "pat-1")
	assert.NoError(err)
	assert.Len(messages, 2)
	assert.Equal(models.TypeOffer, messages[0].Type)
	assert.Equal(models.TypeICECandidate, messages[1].Type)

	messages, err = svc.Poll(ctx, room.ID, "doc-1")
	assert.NoError(err)
	assert.Len(messages, 1)
	assert.Equal(models.TypeAnswer, messages[0].Type)

	// Polling is non-destructive, the backlog is still there.
	messages, err = svc.Poll(ctx, room.ID, "pat-1")
	assert.NoError(err)
	assert.Len(messages, 2)
}

func TestPublishSignal_Validation(t *testing.T) {
	assert := assert.New(t)
	svc, rooms, ctx := createSignalService()

	room, err := rooms.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	// Unknown signal types are rejected.
	_, err = svc.Publish(ctx, room.ID, models.PublishSignalRequest{
		SenderID: "doc-1",
		Type:     "RENEGOTIATE",
		Payload:  "sdp",
	})
	assert.Error(err)
	httpErr, ok := err.(*httputil.Error)
	assert.True(ok)
	assert.Equal(400, httpErr.Status)

	// Non-participants cannot publish.
	_, err = svc.Publish(ctx, room.ID, models.PublishSignalRequest{
		SenderID: "other-user",
		Type:     models.TypeOffer,
		Payload:  "sdp",
	})
	assert.Error(err)
	httpErr, ok = err.(*httputil.Error)
	assert.True(ok)
	assert.Equal(401, httpErr.Status)

	// Publishing to an unknown room requires the room to exist first.
	_, err = svc.Publish(ctx, "missing-room", models.PublishSignalRequest{
		SenderID: "doc-1",
		Type:     models.TypeOffer,
		Payload:  "sdp",
	})
	assert.Error(err)
	httpErr, ok = err.(*httputil.Error)
	assert.True(ok)
	assert.Equal(428, httpErr.Status)

	// Non-participants cannot poll either.
	_, err = svc.Poll(ctx, room.ID, "other-user")
	assert.Error(err)
	httpErr, ok = err.(*httputil.Error)
	assert.True(ok)
	assert.Equal(401, httpErr.Status)
}

func createSignalService() (service.SignalService, service.RoomService, context.Context) {
	db := createTestDatabase()

	rooms := service.RoomService{
		RoomRepo:      repository.NewRoomRepository(db),
		SignalRepo:    repository.NewSignalRepository(db),
		RecordingRepo: repository.NewRecordingRepository(db),
	}

	svc := service.SignalService{
		RoomRepo:   rooms.RoomRepo,
		SignalRepo: rooms.SignalRepo,
		Socket:     service.NewSocketHandler(),
	}

	return svc, rooms, context.Background()
}
