package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/storyloom/coordinator/cmd/coordinator/gateway"
	"github.com/storyloom/coordinator/common/bootstrap"
	"github.com/storyloom/coordinator/common/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now (TODO: Configure CORS properly in production)
		return true
	},
}

// WSHandler upgrades story channel connections and hands them to the gateway
type WSHandler struct {
	gateway    *gateway.Gateway
	components *bootstrap.Components
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(gw *gateway.Gateway, components *bootstrap.Components) *WSHandler {
	return &WSHandler{
		gateway:    gw,
		components: components,
	}
}

// ServeStoryChannel handles WebSocket upgrade for a story's live channel
// GET /ws/stories/:id?user_id=u1&name=Ada&role=student
func (h *WSHandler) ServeStoryChannel(c echo.Context) error {
	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid story id",
		})
	}

	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "user_id query parameter required",
		})
	}

	name := c.QueryParam("name")
	if name == "" {
		name = userID
	}

	role := models.Role(c.QueryParam("role"))
	switch role {
	case models.RoleTeacher:
	case "", models.RoleStudent:
		role = models.RoleStudent
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "role must be student or teacher",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.components.Logger.Error("websocket upgrade failed",
			"story_id", storyID,
			"error", err)
		return nil
	}

	participant := models.Participant{
		UserID: userID,
		Name:   name,
		Color:  c.QueryParam("color"),
	}

	if err := h.gateway.Connect(c.Request().Context(), conn, storyID, participant, role); err != nil {
		h.components.Logger.Error("failed to attach client",
			"story_id", storyID,
			"user_id", userID,
			"error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
	}

	return nil
}
