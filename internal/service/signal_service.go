package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/id"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/telecare/consultation/internal/models"
	"github.com/telecare/consultation/internal/repository"
	"go.uber.org/zap"
)

// Prometheus metrics.
var (
	signalsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_published_total",
			Help: "The total number of published signaling messages",
		},
		[]string{"type"},
	)
)

// SignalService relays signaling messages between room participants.
// Published messages are durable for the duration of one call and served
// through polling. Connected websocket peers additionally get a best-effort
// push, polling remains the source of truth.
type SignalService struct {
	RoomRepo   repository.RoomRepository
	SignalRepo repository.SignalRepository
	Socket     *SocketHandler
}

// Publish appends a signaling message to the room's relay queue.
func (s *SignalService) Publish(ctx context.Context, roomID string, req models.PublishSignalRequest) (models.SignalingMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SignalService.Publish")
	defer span.Finish()

	err := validateSignalType(req.Type)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.SignalingMessage{}, err
	}

	err = s.verifyParticipant(ctx, roomID, req.SenderID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.SignalingMessage{}, err
	}

	message := models.SignalingMessage{
		ID:         id.New(),
		RoomID:     roomID,
		SenderID:   req.SenderID,
		Type:       req.Type,
		Payload:    req.Payload,
		InsertedAt: time.Now().UTC(),
	}

	err = s.SignalRepo.Append(ctx, message)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.SignalingMessage{}, err
	}

	signalsPublished.WithLabelValues(message.Type).Inc()
	s.pushToPeers(ctx, message)

	return message, nil
}

// Poll returns all signaling messages in the room, in insertion order,
// excluding those authored by the requesting participant.
func (s *SignalService) Poll(ctx context.Context, roomID, excludeSenderID string) ([]models.SignalingMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SignalService.Poll")
	defer span.Finish()

	err := s.verifyParticipant(ctx, roomID, excludeSenderID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return nil, err
	}

	messages, err := s.SignalRepo.Poll(ctx, roomID, excludeSenderID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return nil, err
	}

	return messages, nil
}

// Connect attaches a participant to the room's websocket push channel.
func (s *SignalService) Connect(ctx context.Context, roomID, userID string, r *http.Request, w http.ResponseWriter) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SignalService.Connect")
	defer span.Finish()

	err := s.verifyParticipant(ctx, roomID, userID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return err
	}

	err = s.Socket.Connect(ctx, roomID, userID, r, w)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

func (s *SignalService) pushToPeers(ctx context.Context, message models.SignalingMessage) {
	if s.Socket == nil {
		return
	}

	err := s.Socket.Push(ctx, message)
	if err != nil {
		log.Warn("failed to push signal to connected peers", zap.Error(err))
	}
}

func (s *SignalService) verifyParticipant(ctx context.Context, roomID, userID string) error {
	room, err := s.RoomRepo.Find(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return httputil.PreconditionRequiredError(err)
		}
		return err
	}

	if !room.IsParticipant(userID) {
		err = fmt.Errorf("user %s is not a participant of room %s", userID, roomID)
		return httputil.UnauthorizedError(err)
	}

	return nil
}

func validateSignalType(signalType string) error {
	switch signalType {
	case models.TypeOffer, models.TypeAnswer, models.TypeICECandidate:
		return nil
	default:
		err := fmt.Errorf("unknown signal type %s", signalType)
		return httputil.BadRequestError(err)
	}
}
