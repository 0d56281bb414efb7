package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/fleet-requests/internal/application/service"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/geo"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// RequestView is a request with its derived display status
type RequestView struct {
	*entity.Request
	Status workflow.Status `json:"status"`
}

// ResultResponse is the body returned by lifecycle operations
type ResultResponse struct {
	Request *RequestView `json:"request,omitempty"`
	Trip    *entity.Trip `json:"trip,omitempty"`
}

type commentBody struct {
	Comments string `json:"comments"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

type noteBody struct {
	Note string `json:"note"`
}

type notesBody struct {
	Notes string `json:"notes"`
}

type swapDriverBody struct {
	DriverID string `json:"driver_id"`
	Reason   string `json:"reason"`
}

type positionBody struct {
	Location *geo.Point `json:"location"`
}

type availabilityQuery struct {
	Start       string `form:"start"`
	End         string `form:"end"`
	MinCapacity int    `form:"min_capacity"`
}

type notificationQuery struct {
	Unread bool `form:"unread"`
	Limit  int  `form:"limit"`
}

func viewOf(req *entity.Request) *RequestView {
	if req == nil {
		return nil
	}
	return &RequestView{Request: req, Status: req.Status()}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// OpenSocket handles GET /ws. Browsers cannot set headers on upgrades, so the actor may come as a query parameter.
func (h *Handlers) OpenSocket(c *gin.Context) {
	actor := c.GetHeader(ActorHeader)
	if actor == "" {
		actor = c.Query("actor_id")
	}
	if actor == "" || actor == workflow.SystemActorID {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "missing actor"})
		return
	}
	if err := h.services.Sockets.Serve(c.Writer, c.Request, actor); err != nil {
		h.logger.Warn("Websocket upgrade failed", "actor_id", actor, "error", err)
	}
}

// requestService resolves the :kind path parameter
func (h *Handlers) requestService(c *gin.Context) (service.RequestService, bool) {
	svc, ok := h.services.Requests[workflow.Kind(c.Param("kind"))]
	if !ok {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "unknown request kind", Code: service.KindNotFound.String()})
		return nil, false
	}
	return svc, true
}

// vehicleOnly rejects fleet operations on ICT and store requests
func (h *Handlers) vehicleOnly(c *gin.Context) bool {
	if workflow.Kind(c.Param("kind")) != workflow.KindVehicle {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "operation only exists for vehicle requests", Code: service.KindNotFound.String()})
		return false
	}
	return true
}

// bindOptional decodes a JSON body when one was sent
func bindOptional(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body", Code: service.KindValidation.String()})
		return false
	}
	return true
}

// respond schedules the owed notifications and renders the committed state
func (h *Handlers) respond(c *gin.Context, status int, res *service.Result) {
	if h.services.Notifications != nil {
		h.services.Notifications.Run(c.Request.Context(), res.Effects)
	}
	c.JSON(status, Response{
		Success: true,
		Data:    ResultResponse{Request: viewOf(res.Request), Trip: res.Trip},
	})
}

// CreateRequest handles POST /api/requests/:kind
func (h *Handlers) CreateRequest(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	var in service.CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body", Code: service.KindValidation.String()})
		return
	}

	res, err := svc.Create(c.Request.Context(), actorID(c), in)
	if err != nil {
		h.writeError(c, "create", err)
		return
	}
	h.respond(c, http.StatusCreated, res)
}

// ListRequests handles GET /api/requests/:kind
func (h *Handlers) ListRequests(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	reqs, err := svc.FindAll(c.Request.Context(), actorID(c))
	if err != nil {
		h.writeError(c, "find_all", err)
		return
	}

	views := make([]*RequestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, viewOf(r))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: views})
}

// GetRequest handles GET /api/requests/:kind/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	req, err := svc.Get(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: viewOf(req)})
}

// GetHistory handles GET /api/requests/:kind/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	hist, err := svc.History(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: hist})
}

// Approve handles POST /api/requests/:kind/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	var body commentBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := svc.Approve(c.Request.Context(), c.Param("id"), actorID(c), body.Comments)
	if err != nil {
		h.writeError(c, "approve", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Reject handles POST /api/requests/:kind/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	var body reasonBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := svc.Reject(c.Request.Context(), c.Param("id"), actorID(c), body.Reason)
	if err != nil {
		h.writeError(c, "reject", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// SendBack handles POST /api/requests/:kind/:id/send-back
func (h *Handlers) SendBack(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	var body noteBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := svc.SendBack(c.Request.Context(), c.Param("id"), actorID(c), body.Note)
	if err != nil {
		h.writeError(c, "send_back", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Resubmit handles POST /api/requests/:kind/:id/resubmit
func (h *Handlers) Resubmit(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	res, err := svc.Resubmit(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "resubmit", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Cancel handles POST /api/requests/:kind/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	var body reasonBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := svc.Cancel(c.Request.Context(), c.Param("id"), actorID(c), body.Reason)
	if err != nil {
		h.writeError(c, "cancel", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Fulfill handles POST /api/requests/:kind/:id/fulfill
func (h *Handlers) Fulfill(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	var body notesBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := svc.Fulfill(c.Request.Context(), c.Param("id"), actorID(c), body.Notes)
	if err != nil {
		h.writeError(c, "fulfill", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Accept handles POST /api/requests/:kind/:id/accept
func (h *Handlers) Accept(c *gin.Context) {
	svc, ok := h.requestService(c)
	if !ok {
		return
	}
	res, err := svc.Accept(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "accept", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Assign handles POST /api/requests/vehicle/:id/assign
func (h *Handlers) Assign(c *gin.Context) {
	if !h.vehicleOnly(c) {
		return
	}
	var in service.AssignInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body", Code: service.KindValidation.String()})
		return
	}
	in.RequestID = c.Param("id")
	in.ActorID = actorID(c)

	res, err := h.services.Assignments.Assign(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, "assign", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// SwapDriver handles POST /api/requests/vehicle/:id/swap-driver
func (h *Handlers) SwapDriver(c *gin.Context) {
	if !h.vehicleOnly(c) {
		return
	}
	var body swapDriverBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := h.services.Assignments.SwapDriver(c.Request.Context(), c.Param("id"), body.DriverID, actorID(c), body.Reason)
	if err != nil {
		h.writeError(c, "swap_driver", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// GetRequestTrip handles GET /api/requests/vehicle/:id/trip
func (h *Handlers) GetRequestTrip(c *gin.Context) {
	if !h.vehicleOnly(c) {
		return
	}
	trip, err := h.services.Trips.GetByRequest(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "get_request_trip", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: trip})
}

// parseWindow reads an optional [start, end) window from RFC3339 query parameters
func parseWindow(q availabilityQuery) (*entity.Window, error) {
	if q.Start == "" && q.End == "" {
		return nil, nil
	}
	if q.Start == "" || q.End == "" {
		return nil, errors.New("start and end must be given together")
	}
	start, err := time.Parse(time.RFC3339, q.Start)
	if err != nil {
		return nil, errors.New("start must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, q.End)
	if err != nil {
		return nil, errors.New("end must be RFC3339")
	}
	return &entity.Window{Start: start, End: end}, nil
}

func (h *Handlers) bindWindow(c *gin.Context) (availabilityQuery, *entity.Window, bool) {
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters", Code: service.KindValidation.String()})
		return q, nil, false
	}
	w, err := parseWindow(q)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error(), Code: service.KindValidation.String()})
		return q, nil, false
	}
	return q, w, true
}

// AvailableDrivers handles GET /api/fleet/drivers/available
func (h *Handlers) AvailableDrivers(c *gin.Context) {
	_, window, ok := h.bindWindow(c)
	if !ok {
		return
	}
	drivers, err := h.services.Assignments.AvailableDrivers(c.Request.Context(), actorID(c), window)
	if err != nil {
		h.writeError(c, "available_drivers", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: drivers})
}

// AvailableVehicles handles GET /api/fleet/vehicles/available
func (h *Handlers) AvailableVehicles(c *gin.Context) {
	q, window, ok := h.bindWindow(c)
	if !ok {
		return
	}
	vehicles, err := h.services.Assignments.AvailableVehicles(c.Request.Context(), actorID(c), window, q.MinCapacity)
	if err != nil {
		h.writeError(c, "available_vehicles", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: vehicles})
}

// ListDriverTrips handles GET /api/fleet/drivers/:id/trips
func (h *Handlers) ListDriverTrips(c *gin.Context) {
	trips, err := h.services.Trips.ListByDriver(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "list_driver_trips", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: trips})
}

// GetTrip handles GET /api/trips/:id
func (h *Handlers) GetTrip(c *gin.Context) {
	trip, err := h.services.Trips.Get(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "get_trip", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: trip})
}

// StartTrip handles POST /api/trips/:id/start
func (h *Handlers) StartTrip(c *gin.Context) {
	var body positionBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := h.services.Trips.Start(c.Request.Context(), c.Param("id"), actorID(c), body.Location)
	if err != nil {
		h.writeError(c, "start_trip", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// UpdateLocation handles POST /api/trips/:id/location
func (h *Handlers) UpdateLocation(c *gin.Context) {
	var p geo.TimedPoint
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body", Code: service.KindValidation.String()})
		return
	}
	res, err := h.services.Trips.UpdateLocation(c.Request.Context(), c.Param("id"), actorID(c), p)
	if err != nil {
		h.writeError(c, "update_location", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// CompleteTrip handles POST /api/trips/:id/complete
func (h *Handlers) CompleteTrip(c *gin.Context) {
	var body positionBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := h.services.Trips.Complete(c.Request.Context(), c.Param("id"), actorID(c), body.Location)
	if err != nil {
		h.writeError(c, "complete_trip", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// MarkReturned handles POST /api/trips/:id/return
func (h *Handlers) MarkReturned(c *gin.Context) {
	res, err := h.services.Trips.MarkReturned(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, "mark_returned", err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// ListNotifications handles GET /api/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	var q notificationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters", Code: service.KindValidation.String()})
		return
	}
	list, err := h.services.Notifications.List(c.Request.Context(), actorID(c), q.Unread, q.Limit)
	if err != nil {
		h.writeError(c, "list_notifications", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	if err := h.services.Notifications.MarkRead(c.Request.Context(), actorID(c), c.Param("id")); err != nil {
		h.writeError(c, "mark_notification_read", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"id": c.Param("id"), "read": true}})
}
