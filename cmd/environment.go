package main

import (
	"database/sql"
	"io"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/dbutil"
	"github.com/opentracing/opentracing-go"
	"github.com/telecare/consultation/internal/repository"
	"github.com/telecare/consultation/internal/service"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"go.uber.org/zap"
)

type env struct {
	cfg              config
	db               *sql.DB
	traceCloser      io.Closer
	roomService      *service.RoomService
	signalService    *service.SignalService
	recordingService *service.RecordingService
}

func (e *env) checkHealth() error {
	err := dbutil.Connected(e.db)
	if err != nil {
		return httputil.ServiceUnavailableError(err)
	}

	return nil
}

func (e *env) close() {
	err := e.db.Close()
	if err != nil {
		log.Error("failed to close database connection", zap.Error(err))
	}

	if e.traceCloser == nil {
		return
	}

	err = e.traceCloser.Close()
	if err != nil {
		log.Error("failed to close tracer connection", zap.Error(err))
	}
}

func setupEnv() *env {
	jcfg, err := jaegercfg.FromEnv()
	if err != nil {
		log.Fatal("failed to create jaeger configuration", zap.Error(err))
	}

	tracer, closer, err := jcfg.NewTracer()
	if err != nil {
		log.Fatal("failed to create tracer", zap.Error(err))
	}

	opentracing.SetGlobalTracer(tracer)

	cfg := getConfig()
	db := dbutil.MustConnect(cfg.db)
	err = dbutil.Upgrade(cfg.migrationsPath, cfg.db.Driver(), db)
	if err != nil {
		log.Fatal("failed to apply database migrations", zap.Error(err))
	}

	e := createEnv(cfg, db)
	e.traceCloser = closer
	return e
}

func createEnv(cfg config, db *sql.DB) *env {
	roomRepo := repository.NewRoomRepository(db)
	signalRepo := repository.NewSignalRepository(db)
	recordingRepo := repository.NewRecordingRepository(db)

	roomService := &service.RoomService{
		RoomRepo:      roomRepo,
		SignalRepo:    signalRepo,
		RecordingRepo: recordingRepo,
	}

	signalService := &service.SignalService{
		RoomRepo:   roomRepo,
		SignalRepo: signalRepo,
		Socket:     service.NewSocketHandler(),
	}

	recordingService := &service.RecordingService{
		RoomRepo:      roomRepo,
		RecordingRepo: recordingRepo,
		StorageDir:    cfg.recordings.dir,
		BaseURL:       cfg.recordings.baseURL,
	}

	return &env{
		cfg:              cfg,
		db:               db,
		roomService:      roomService,
		signalService:    signalService,
		recordingService: recordingService,
	}
}
