package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CzarSimon/httputil/client/rpc"
	"github.com/CzarSimon/httputil/dbutil"
	"github.com/CzarSimon/httputil/id"
	"github.com/CzarSimon/httputil/jwt"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/telecare/consultation/internal/models"
	"go.uber.org/zap"
)

func TestCreateRoom_Permissions(t *testing.T) {
	assert := assert.New(t)
	e, _ := createTestEnv(t)
	defer e.db.Close()
	server := newServer(e)

	type testCase struct {
		role           string
		expectedStatus int
	}

	cases := []testCase{
		{role: "", expectedStatus: http.StatusUnauthorized},
		{role: "USER", expectedStatus: http.StatusForbidden},
	}

	body := models.CreateRoomRequest{DoctorID: "doc-1", PatientID: "pat-1"}
	for i, tc := range cases {
		req := createTestRequest("/v1/appointments/apt-1/room", http.MethodPost, tc.role, body)
		res := performTestRequest(server.Handler, req)
		assert.Equal(tc.expectedStatus, res.Code, fmt.Sprintf("Test case %d failed", i))
	}
}

func TestCreateRoom(t *testing.T) {
	assert := assert.New(t)
	e, _ := createTestEnv(t)
	defer e.db.Close()
	server := newServer(e)

	body := models.CreateRoomRequest{DoctorID: "doc-1", PatientID: "pat-1"}
	req := createTestRequest("/v1/appointments/apt-1/room", http.MethodPost, jwt.SystemRole, body)
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var room models.Room
	err := json.Unmarshal(res.Body.Bytes(), &room)
	assert.NoError(err)
	assert.NotEmpty(room.ID)
	assert.Equal("apt-1", room.AppointmentID)
	assert.Equal(models.StatusWaiting, room.Status)

	// Creating a second room for the same appointment is a conflict.
	req = createTestRequest("/v1/appointments/apt-1/room", http.MethodPost, jwt.SystemRole, body)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusConflict, res.Code)

	// A room without both participants is a bad request.
	req = createTestRequest("/v1/appointments/apt-2/room", http.MethodPost, jwt.SystemRole, models.CreateRoomRequest{DoctorID: "doc-1"})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusBadRequest, res.Code)
}

func TestJoinAndEndRoom(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv(t)
	defer e.db.Close()
	server := newServer(e)

	_, err := e.roomService.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	req := createTestRequest("/v1/appointments/apt-1/join", http.MethodPost, "USER", models.JoinRequest{UserID: "doc-1", Role: models.RoleDoctor})
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var room models.Room
	err = json.Unmarshal(res.Body.Bytes(), &room)
	assert.NoError(err)
	assert.Equal(models.StatusWaiting, room.Status)
	assert.NotNil(room.DoctorJoinedAt)

	req = createTestRequest("/v1/appointments/apt-1/join", http.MethodPost, "USER", models.JoinRequest{UserID: "pat-1", Role: models.RolePatient})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	err = json.Unmarshal(res.Body.Bytes(), &room)
	assert.NoError(err)
	assert.Equal(models.StatusActive, room.Status)

	req = createTestRequest("/v1/appointments/apt-1/end", http.MethodPost, "USER", models.EndRequest{UserID: "doc-1"})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var result models.EndResult
	err = json.Unmarshal(res.Body.Bytes(), &result)
	assert.NoError(err)
	assert.Nil(result.SessionRef)

	// Joining an ended room is a conflict until the room is reset.
	req = createTestRequest("/v1/appointments/apt-1/join", http.MethodPost, "USER", models.JoinRequest{UserID: "pat-1", Role: models.RolePatient})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusConflict, res.Code)

	req = createTestRequest("/v1/rooms/"+room.ID+"/rejoin", http.MethodPost, "USER", models.RejoinRequest{UserID: "pat-1"})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	err = json.Unmarshal(res.Body.Bytes(), &room)
	assert.NoError(err)
	assert.Equal(models.StatusWaiting, room.Status)
	assert.Nil(room.DoctorJoinedAt)
	assert.Nil(room.PatientJoinedAt)

	req = createTestRequest("/v1/appointments/apt-1/join", http.MethodPost, "USER", models.JoinRequest{UserID: "pat-1", Role: models.RolePatient})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)
}

func TestJoinRoom_MissingRoom(t *testing.T) {
	assert := assert.New(t)
	e, _ := createTestEnv(t)
	defer e.db.Close()
	server := newServer(e)

	req := createTestRequest("/v1/appointments/no-such-apt/join", http.MethodPost, "USER", models.JoinRequest{UserID: "doc-1"})
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusPreconditionRequired, res.Code)
}

func TestSignalsAPI(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv(t)
	defer e.db.Close()
	server := newServer(e)

	room, err := e.roomService.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	publishRoute := fmt.Sprintf("/v1/rooms/%s/signals", room.ID)
	body := models.PublishSignalRequest{SenderID: "doc-1", Type: models.TypeOffer, Payload: "offer-sdp"}
	req := createTestRequest(publishRoute, http.MethodPost, "USER", body)
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var message models.SignalingMessage
	err = json.Unmarshal(res.Body.Bytes(), &message)
	assert.NoError(err)
	assert.NotEmpty(message.ID)
	assert.Equal(models.TypeOffer, message.Type)

	// A poll without the exclude parameter is a bad request.
	req = createTestRequest(publishRoute, http.MethodGet, "USER", nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusBadRequest, res.Code)

	req = createTestRequest(publishRoute+"?exclude=pat-1", http.MethodGet, "USER", nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var messages []models.SignalingMessage
	err = json.Unmarshal(res.Body.Bytes(), &messages)
	assert.NoError(err)
	assert.Len(messages, 1)
	assert.Equal("offer-sdp", messages[0].Payload)

	// The sender does not get their own messages back.
	req = createTestRequest(publishRoute+"?exclude=doc-1", http.MethodGet, "USER", nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	err = json.Unmarshal(res.Body.Bytes(), &messages)
	assert.NoError(err)
	assert.Len(messages, 0)

	// Unauthenticated access is rejected.
	req = createTestRequest(publishRoute, http.MethodPost, "", body)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusUnauthorized, res.Code)
}

func TestRecordingUploadAPI(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv(t)
	defer e.db.Close()
	server := newServer(e)

	room, err := e.roomService.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	route := fmt.Sprintf("/v1/rooms/%s/recordings", room.ID)
	req := createTestRequest(route, http.MethodPost, "USER", models.RejoinRequest{UserID: "doc-1"})
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var destination models.UploadDestination
	err = json.Unmarshal(res.Body.Bytes(), &destination)
	assert.NoError(err)
	assert.NotEmpty(destination.RecordingID)

	blob := []byte("fake-ogg-audio-bytes")
	uploadRoute := fmt.Sprintf("/v1/recordings/%s", destination.RecordingID)
	req = createUploadRequest(uploadRoute, "audio/ogg", blob)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var recording models.Recording
	err = json.Unmarshal(res.Body.Bytes(), &recording)
	assert.NoError(err)
	assert.Equal(room.ID, recording.RoomID)
	assert.Equal(int64(len(blob)), recording.SizeBytes)
	assert.Equal("audio/ogg", recording.ContentType)

	// Empty uploads are rejected.
	req = createUploadRequest(uploadRoute, "audio/ogg", nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusBadRequest, res.Code)

	// Ending the room with the uploaded recording references it.
	endBody := models.EndRequest{UserID: "doc-1", RecordingID: destination.RecordingID}
	req = createTestRequest("/v1/appointments/apt-1/end", http.MethodPost, "USER", endBody)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var result models.EndResult
	err = json.Unmarshal(res.Body.Bytes(), &result)
	assert.NoError(err)
	assert.NotNil(result.SessionRef)
	assert.Equal(destination.RecordingID, result.SessionRef.ID)
}

func TestSocketPush(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv(t)
	e.cfg.port = "32953"
	defer e.db.Close()
	server := newServer(e)

	room, err := e.roomService.Create(ctx, "apt-1", "doc-1", "pat-1")
	assert.NoError(err)

	go func() {
		err := server.ListenAndServe()
		if err != nil {
			log.Error("unexpected error closing server", zap.Error(err))
		}
	}()
	time.Sleep(50 * time.Millisecond)

	url := fmt.Sprintf("ws://127.0.0.1:%s/v1/rooms/%s/socket?userId=pat-1", e.cfg.port, room.ID)
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(err)
	assert.Equal(http.StatusSwitchingProtocols, res.StatusCode)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	publishURL := fmt.Sprintf("http://127.0.0.1:%s/v1/rooms/%s/signals", e.cfg.port, room.ID)
	body := models.PublishSignalRequest{SenderID: "doc-1", Type: models.TypeOffer, Payload: "offer-sdp"}
	req := createTestRequest(publishURL, http.MethodPost, "USER", body)
	httpRes, err := rpc.NewClient(time.Second).Do(req)
	assert.NoError(err)
	assert.Equal(http.StatusOK, httpRes.StatusCode)

	mt, data, err := conn.ReadMessage()
	assert.NoError(err)
	assert.Equal(websocket.TextMessage, mt)

	var message models.SignalingMessage
	err = json.Unmarshal(data, &message)
	assert.NoError(err)
	assert.Equal(models.TypeOffer, message.Type)
	assert.Equal("doc-1", message.SenderID)
	assert.Equal(room.ID, message.RoomID)
}

func createTestEnv(t *testing.T) (*env, context.Context) {
	cfg := config{
		port:           "34547",
		db:             dbutil.SqliteConfig{},
		migrationsPath: "../resources/db/sqlite",
		jwtCredentials: getTestJWTCredentials(),
		recordings: recordingsConfig{
			dir:     t.TempDir(),
			baseURL: "http://consultation:8080",
		},
	}

	db := dbutil.MustConnect(cfg.db)

	err := dbutil.Downgrade(cfg.migrationsPath, cfg.db.Driver(), db)
	if err != nil {
		log.Panic("Failed to apply downgrade migratons", zap.Error(err))
	}

	err = dbutil.Upgrade(cfg.migrationsPath, cfg.db.Driver(), db)
	if err != nil {
		log.Panic("Failed to apply upgrade migratons", zap.Error(err))
	}

	return createEnv(cfg, db), context.Background()
}

func performTestRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createTestRequest(route, method, role string, body interface{}) *http.Request {
	client := rpc.NewClient(time.Second)
	req, err := client.CreateRequest(method, route, body)
	if err != nil {
		log.Fatal("Failed to create request", zap.Error(err))
	}

	span := opentracing.StartSpan(fmt.Sprintf("%s.%s", method, route))
	opentracing.GlobalTracer().Inject(
		span.Context(),
		opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(req.Header),
	)

	if role == "" {
		return req
	}

	issuer := jwt.NewIssuer(getTestJWTCredentials())
	token, err := issuer.Issue(jwt.User{
		ID:    "consultation-user-" + id.New(),
		Roles: []string{role},
	}, time.Hour)
	if err != nil {
		log.Fatal("Failed to issue token", zap.Error(err))
	}

	req.Header.Add("Authorization", "Bearer "+token)
	return req
}

func createUploadRequest(route, contentType string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPut, route, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)

	issuer := jwt.NewIssuer(getTestJWTCredentials())
	token, err := issuer.Issue(jwt.User{
		ID:    "consultation-user-" + id.New(),
		Roles: []string{"USER"},
	}, time.Hour)
	if err != nil {
		log.Fatal("Failed to issue token", zap.Error(err))
	}

	req.Header.Add("Authorization", "Bearer "+token)
	return req
}

func getTestJWTCredentials() jwt.Credentials {
	return jwt.Credentials{
		Issuer: "consultation-test",
		Secret: "very-secret-secret",
	}
}
