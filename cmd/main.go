package main

import (
	"net/http"
	"time"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/jwt"
	"github.com/CzarSimon/httputil/logger"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var log = logger.GetDefaultLogger("consultation/main")

func main() {
	e := setupEnv()
	defer e.close()

	server := newServer(e)
	log.Info("Started consultation service listening on port: " + e.cfg.port)

	err := server.ListenAndServe()
	if err != nil {
		log.Error("Unexpected error stoped server.", zap.Error(err))
	}
}

func newServer(e *env) *http.Server {
	r := httputil.NewRouter("consultation", e.checkHealth)

	rbac := httputil.RBAC{
		Verifier: jwt.NewVerifier(e.cfg.jwtCredentials, time.Minute),
	}
	secured := rbac.Secure("USER")

	r.POST("/v1/appointments/:appointmentId/room", rbac.Secure(jwt.SystemRole), e.createRoom)
	r.POST("/v1/appointments/:appointmentId/join", secured, e.joinRoom)
	r.POST("/v1/appointments/:appointmentId/end", secured, e.endRoom)

	r.GET("/v1/rooms/:roomId/signals", secured, e.getSignals)
	r.POST("/v1/rooms/:roomId/signals", secured, e.publishSignal)
	r.POST("/v1/rooms/:roomId/rejoin", secured, e.rejoinRoom)
	r.POST("/v1/rooms/:roomId/recordings", secured, e.createUploadDestination)
	r.GET("/v1/rooms/:roomId/socket", e.connectSocket)

	r.PUT("/v1/recordings/:recordingId", secured, e.uploadRecording)

	return &http.Server{
		Addr:    ":" + e.cfg.port,
		Handler: r,
	}
}
