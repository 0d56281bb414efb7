package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/fleet-requests/internal/application/service"
)

// ActorHeader carries the authenticated caller id, set by the gateway in front of the service
const ActorHeader = "X-Actor-ID"

const actorKey = "actor_id"

// requireActor rejects requests without a caller identity
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader(ActorHeader)
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + ActorHeader + " header",
			})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	return c.GetString(actorKey)
}

// statusFor maps a service error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidState):
		// conflicts included
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error. Internal details never leave the process.
func (h *Handlers) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	resp := Response{Success: false, Error: "internal error", Code: service.KindInternal.String()}

	var se *service.Error
	if errors.As(err, &se) && status != http.StatusInternalServerError {
		resp.Error = se.Message
		resp.Code = se.Kind.String()
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", op, "actor_id", actorID(c), "error", err)
	} else {
		h.logger.Warn("Request refused", "operation", op, "actor_id", actorID(c), "status", status, "error", err)
	}
	c.JSON(status, resp)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ActorHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
