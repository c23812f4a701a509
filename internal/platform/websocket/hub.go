// Package websocket pushes ticket calls to connected display panels. Panels
// subscribe to their unit, optionally narrowed to one call stage, and receive
// every call announced there.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientflow/patientflow/internal/domain/attendance"
	"github.com/patientflow/patientflow/internal/platform/db"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event is the frame sent to panels.
type Event struct {
	Type string               `json:"type"`
	Call attendance.CallEvent `json:"call"`
}

// Topic names the subscription for a unit, or for one stage of a unit when
// stage is not empty.
func Topic(unitID, stage string) string {
	if stage == "" {
		return unitID
	}
	return unitID + "/" + stage
}

// Client is one connected panel.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks panels by topic. Safe for concurrent use.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{}
	all         map[*Client]struct{}
	defaultUnit string
	logger      zerolog.Logger
}

func NewHub(defaultUnit string, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		all:         make(map[*Client]struct{}),
		defaultUnit: defaultUnit,
		logger:      logger.With().Str("component", "display_hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes the client and closes its Send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Broadcast sends data to every client on topic. Slow clients whose buffer
// is full miss the frame; they still poll.
func (h *Hub) Broadcast(topic string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
			sent++
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("display buffer full, frame dropped")
		}
	}
	return sent
}

// Announce implements attendance.Announcer.
func (h *Hub) Announce(_ context.Context, ev attendance.CallEvent) error {
	if ev.UnitID == "" {
		ev.UnitID = h.defaultUnit
	}
	data, err := json.Marshal(Event{Type: "call", Call: ev})
	if err != nil {
		return err
	}
	sent := h.Broadcast(Topic(ev.UnitID, ""), data)
	sent += h.Broadcast(Topic(ev.UnitID, ev.Stage), data)
	h.logger.Debug().Str("unit", ev.UnitID).Str("code", ev.Code).Int("panels", sent).Msg("call pushed")
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// -- HTTP --

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Panels are served from kiosks on arbitrary origins and carry no
	// credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes mounts the panel socket on the displays group.
func (h *Handler) RegisterRoutes(displays *echo.Group) {
	displays.GET("/ws", h.Connect)
}

// Connect upgrades the request and subscribes the panel to the request's
// unit. ?stage=triage|clinician narrows the feed.
func (h *Handler) Connect(c echo.Context) error {
	stage := c.QueryParam("stage")
	if stage != "" && stage != attendance.StageTriage && stage != attendance.StageClinician {
		return echo.NewHTTPError(http.StatusBadRequest, "stage must be triage or clinician")
	}
	unit := db.UnitFromContext(c.Request().Context())
	if unit == "" {
		unit = h.hub.defaultUnit
	}

	// Upgrade has already answered the client when it fails.
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.hub.logger.Warn().Err(err).Str("topic", Topic(unit, stage)).Msg("display upgrade failed")
		return nil
	}

	client := &Client{
		ID:     uuid.NewString(),
		Topics: []string{Topic(unit, stage)},
		Send:   make(chan []byte, sendBuffer),
	}
	h.hub.Register(client)
	h.hub.logger.Info().Str("client_id", client.ID).Str("topic", client.Topics[0]).Msg("display connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump only watches for pongs and the close frame; panels send nothing.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
		h.hub.logger.Info().Str("client_id", client.ID).Msg("display disconnected")
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
