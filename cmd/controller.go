package main

import (
	"errors"
	"net/http"

	"github.com/CzarSimon/httputil"
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/telecare/consultation/internal/models"
)

func (e *env) createRoom(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.createRoom")
	defer span.Finish()

	var body models.CreateRoomRequest
	err := c.ShouldBindJSON(&body)
	if err != nil {
		httpErr := httputil.BadRequestError(err)
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	if body.DoctorID == "" || body.PatientID == "" {
		httpErr := httputil.BadRequestError(errors.New("doctorId or patientId is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	room, err := e.roomService.Create(ctx, c.Param("appointmentId"), body.DoctorID, body.PatientID)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, room)
}

func (e *env) joinRoom(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.joinRoom")
	defer span.Finish()

	var body models.JoinRequest
	err := c.ShouldBindJSON(&body)
	if err != nil || body.UserID == "" {
		httpErr := httputil.BadRequestError(errors.New("userId is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	room, err := e.roomService.Join(ctx, c.Param("appointmentId"), body.UserID, body.Role)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, room)
}

func (e *env) endRoom(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.endRoom")
	defer span.Finish()

	var body models.EndRequest
	err := c.ShouldBindJSON(&body)
	if err != nil || body.UserID == "" {
		httpErr := httputil.BadRequestError(errors.New("userId is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	result, err := e.roomService.End(ctx, c.Param("appointmentId"), body.UserID, body.RecordingID)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, result)
}

func (e *env) getSignals(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.getSignals")
	defer span.Finish()

	exclude := c.Query("exclude")
	if exclude == "" {
		httpErr := httputil.BadRequestError(errors.New("exclude sender id is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	messages, err := e.signalService.Poll(ctx, c.Param("roomId"), exclude)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, messages)
}

func (e *env) publishSignal(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.publishSignal")
	defer span.Finish()

	var body models.PublishSignalRequest
	err := c.ShouldBindJSON(&body)
	if err != nil || body.SenderID == "" {
		httpErr := httputil.BadRequestError(errors.New("senderId is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	message, err := e.signalService.Publish(ctx, c.Param("roomId"), body)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, message)
}

func (e *env) rejoinRoom(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.rejoinRoom")
	defer span.Finish()

	var body models.RejoinRequest
	err := c.ShouldBindJSON(&body)
	if err != nil || body.UserID == "" {
		httpErr := httputil.BadRequestError(errors.New("userId is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	room, err := e.roomService.Rejoin(ctx, c.Param("roomId"), body.UserID)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, room)
}

func (e *env) createUploadDestination(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.createUploadDestination")
	defer span.Finish()

	var body struct {
		UserID string `json:"userId"`
	}
	err := c.ShouldBindJSON(&body)
	if err != nil || body.UserID == "" {
		httpErr := httputil.BadRequestError(errors.New("userId is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	destination, err := e.recordingService.CreateUploadDestination(ctx, c.Param("roomId"), body.UserID)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, destination)
}

func (e *env) uploadRecording(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.uploadRecording")
	defer span.Finish()

	contentType := c.GetHeader("Content-Type")
	recording, err := e.recordingService.StoreUpload(ctx, c.Param("recordingId"), contentType, c.Request.Body)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, recording)
}

func (e *env) connectSocket(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.connectSocket")
	defer span.Finish()

	userID := c.Query("userId")
	if userID == "" {
		httpErr := httputil.BadRequestError(errors.New("userId is missing"))
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	err := e.signalService.Connect(ctx, c.Param("roomId"), userID, c.Request, c.Writer)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
}
