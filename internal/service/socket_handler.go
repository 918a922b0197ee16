package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/CzarSimon/httputil"
	"github.com/gorilla/websocket"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/telecare/consultation/internal/models"
	"go.uber.org/zap"
)

type peer struct {
	id   string
	send chan []byte
}

// roomChannel holds the websocket peers connected for one room.
type roomChannel struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

func (ch *roomChannel) join(userID string) (*peer, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	_, ok := ch.peers[userID]
	if ok {
		err := fmt.Errorf("peer(userId=%s) has already joined channel", userID)
		return nil, httputil.ConflictError(err)
	}

	p := &peer{
		id:   userID,
		send: make(chan []byte),
	}

	ch.peers[userID] = p
	return p, nil
}

func (ch *roomChannel) leave(userID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	p, ok := ch.peers[userID]
	if !ok {
		return
	}

	close(p.send)
	delete(ch.peers, userID)
}

// SocketHandler pushes newly published signaling messages to connected peers.
type SocketHandler struct {
	upgrader *websocket.Upgrader
	mu       sync.RWMutex
	channels map[string]*roomChannel
}

// NewSocketHandler creates a new SocketHandler.
func NewSocketHandler() *SocketHandler {
	return &SocketHandler{
		upgrader: &websocket.Upgrader{},
		mu:       sync.RWMutex{},
		channels: make(map[string]*roomChannel),
	}
}

// Connect upgrades the request to a websocket and attaches the participant
// to the channel of the given room.
func (h *SocketHandler) Connect(ctx context.Context, roomID, userID string, r *http.Request, w http.ResponseWriter) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "service_socket_handler_connect")
	defer span.Finish()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		err = fmt.Errorf("failed to upgrade connetion to a websocket %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	ch := h.findOrCreateChannel(roomID)
	p, err := ch.join(userID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		closeSocket(ws)
		return err
	}

	go registerSocketSender(p, ws)
	go registerSocketCloser(ch, p, ws)
	return nil
}

// Push sends a signaling message to all connected peers in the room except
// the sender.
func (h *SocketHandler) Push(ctx context.Context, message models.SignalingMessage) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service_socket_handler_push")
	defer span.Finish()

	ch, ok := h.findChannel(message.RoomID)
	if !ok {
		span.LogFields(tracelog.String("outcome", "no-connected-peers"))
		return nil
	}

	err := sendToChannel(ctx, ch, message)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

// Disconnect removes all connected peers of a room, closing their sockets.
func (h *SocketHandler) Disconnect(ctx context.Context, roomID string) {
	span, _ := opentracing.StartSpanFromContext(ctx, "service_socket_handler_disconnect")
	defer span.Finish()

	ch, ok := h.findChannel(roomID)
	if !ok {
		return
	}

	ch.mu.Lock()
	for userID, p := range ch.peers {
		close(p.send)
		delete(ch.peers, userID)
	}
	ch.mu.Unlock()

	h.mu.Lock()
	delete(h.channels, roomID)
	h.mu.Unlock()
}

func sendToChannel(ctx context.Context, ch *roomChannel, message models.SignalingMessage) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "service_send_to_channel")
	defer span.Finish()

	data, err := json.Marshal(message)
	if err != nil {
		err = fmt.Errorf("failed to serialize json %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	ch.mu.RLock()
	for _, p := range ch.peers {
		if p.id == message.SenderID {
			continue
		}

		select {
		case p.send <- data:
		default:
			log.Warn("dropped signal push to slow peer", zap.String("peerId", p.id))
		}
	}
	ch.mu.RUnlock()

	return nil
}

func (h *SocketHandler) findChannel(roomID string) (*roomChannel, bool) {
	h.mu.RLock()
	ch, ok := h.channels[roomID]
	h.mu.RUnlock()

	return ch, ok
}

func (h *SocketHandler) findOrCreateChannel(roomID string) *roomChannel {
	ch, ok := h.findChannel(roomID)

	if !ok {
		ch = &roomChannel{
			mu:    sync.RWMutex{},
			peers: make(map[string]*peer),
		}
		h.mu.Lock()
		h.channels[roomID] = ch
		h.mu.Unlock()
	}

	return ch
}

func registerSocketSender(p *peer, ws *websocket.Conn) {
	for data := range p.send {
		writeMessage(ws, websocket.TextMessage, data)
	}

	closeSocket(ws)
}

func registerSocketCloser(ch *roomChannel, p *peer, ws *websocket.Conn) {
	for {
		_, _, err := ws.ReadMessage()
		if err != nil {
			ch.leave(p.id)
			return
		}
	}
}

func closeSocket(ws *websocket.Conn) {
	writeMessage(ws, websocket.CloseMessage, []byte{})
	err := ws.Close()
	if err != nil {
		log.Warn("failed to close websocked connection", zap.Error(err))
	}
}

func writeMessage(ws *websocket.Conn, messageType int, data []byte) {
	err := ws.WriteMessage(messageType, data)
	if err != nil {
		log.Warn("failed to send message", zap.Error(err))
	}
}
