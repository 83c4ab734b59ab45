package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SimplyPrint/srix-agent/internal/dump"
	"github.com/SimplyPrint/srix-agent/internal/logging"
	"github.com/SimplyPrint/srix-agent/internal/settings"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{} // closed by the hub when the client is dropped
	hub        *WSHub
	mu         sync.Mutex
	subscribed bool
	pollStop   chan struct{}
	lastUID    string
}

// WSHub manages all WebSocket connections
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.done)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.done)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish sends an event to every connected client.
func (h *WSHub) Publish(msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	msg, _ := json.Marshal(WSMessage{Type: msgType, Payload: payloadBytes})
	h.broadcast <- msg
}

// Global hub instance
var wsHub *WSHub

// BroadcastWrite announces a finished tag write to all clients. It is a
// no-op until InitWebSocket has run.
func BroadcastWrite(ev WriteEvent) {
	if wsHub == nil {
		return
	}
	wsHub.Publish("tag_written", ev)
}

// InitWebSocket initializes the WebSocket hub and returns the handler
func InitWebSocket() http.HandlerFunc {
	wsHub = NewWSHub()
	go wsHub.Run()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error":      err.Error(),
				"remoteAddr": r.RemoteAddr,
			})
			return
		}

		logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
			"remoteAddr": r.RemoteAddr,
		})

		client := newWSClient(conn, wsHub)

		wsHub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func newWSClient(conn *websocket.Conn, hub *WSHub) *WSClient {
	return &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
		hub:  hub,
	}
}

// deliver queues msg, or drops it once the hub has let go of the client.
// Handlers and the poll goroutine may still be running at that point.
func (c *WSClient) deliver(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	// Cleanup (runs first)
	defer func() {
		c.stopPolling()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024) // 512KB max message size
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", nil)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	// Cleanup (runs first)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	switch msg.Type {
	case "list_readers":
		c.handleListReaders(msg.ID)
	case "read_tag":
		c.handleReadTag(msg.ID, msg.Payload)
	case "dump":
		c.handleDump(msg.ID, msg.Payload)
	case "plan_restore":
		c.handlePlanRestore(msg.ID, msg.Payload)
	case "execute_plan":
		c.handleExecutePlan(msg.ID, msg.Payload)
	case "otp_status":
		c.handleOTPStatus(msg.ID)
	case "reset_otp":
		c.handleResetOTP(msg.ID, msg.Payload)
	case "subscribe":
		c.handleSubscribe(msg.ID, msg.Payload)
	case "unsubscribe":
		c.handleUnsubscribe(msg.ID)
	case "version":
		c.handleVersion(msg.ID)
	case "health":
		c.handleHealth(msg.ID)
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": msg.Type,
		})
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) sendResponse(id string, msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	response := WSMessage{
		Type:    msgType,
		ID:      id,
		Payload: payloadBytes,
	}
	responseBytes, _ := json.Marshal(response)
	c.deliver(responseBytes)
}

func (c *WSClient) sendError(id string, errMsg string) {
	response := WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	}
	responseBytes, _ := json.Marshal(response)
	c.deliver(responseBytes)
}

// tagRequest is the common payload of tag messages. Payload may be empty.
type tagRequest struct {
	TagType string `json:"tagType"`
	Blocks  bool   `json:"blocks"`
	Format  string `json:"format"`
	Dump    []byte `json:"dump"` // base64 in JSON
	ID      string `json:"id"`   // plan id for execute_plan and reset_otp
}

func parseTagRequest(payload json.RawMessage) (tagRequest, srix.TagType, error) {
	var req tagRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return req, "", err
		}
	}
	if req.TagType == "" {
		return req, settings.TagType(), nil
	}
	t, err := srix.ParseTagType(req.TagType)
	return req, t, err
}

func (c *WSClient) handleListReaders(id string) {
	readers, err := tags.Readers()
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "readers", readers)
}

func (c *WSClient) handleReadTag(id string, payload json.RawMessage) {
	req, t, err := parseTagRequest(payload)
	if err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	info, err := tags.ReadTag(context.Background(), t, req.Blocks)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "tag", info)
}

func (c *WSClient) handleDump(id string, payload json.RawMessage) {
	req, t, err := parseTagRequest(payload)
	if err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	res, err := tags.Dump(context.Background(), t)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	data := res.Store.Bytes()
	if req.Format == "cbor" {
		data, err = dump.EncodeSnapshot(dump.NewSnapshot(res.Store, &res.Identity, &res.SystemBlock, time.Now()))
		if err != nil {
			c.sendError(id, err.Error())
			return
		}
	} else {
		req.Format = "raw"
	}

	c.sendResponse(id, "dump", map[string]interface{}{
		"uid":    res.Identity.String(),
		"format": req.Format,
		"data":   data,
	})
}

func (c *WSClient) handlePlanRestore(id string, payload json.RawMessage) {
	req, t, err := parseTagRequest(payload)
	if err != nil {
		c.sendError(id, "invalid payload")
		return
	}
	if len(req.Dump) == 0 {
		c.sendError(id, "dump is required")
		return
	}

	var store *srix.Store
	if req.Format == "cbor" {
		snap, derr := dump.DecodeSnapshot(req.Dump)
		if derr != nil {
			c.sendError(id, derr.Error())
			return
		}
		store, err = snap.Store()
	} else {
		store, err = srix.StoreFromBytes(t, req.Dump)
	}
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	plan, err := tags.PlanRestore(context.Background(), store)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "restore_plan", plan)
}

func (c *WSClient) handleExecutePlan(id string, payload json.RawMessage) {
	req, _, err := parseTagRequest(payload)
	if err != nil || req.ID == "" {
		c.sendError(id, "invalid payload")
		return
	}

	out, err := tags.ExecutePlan(context.Background(), req.ID)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "restore_done", out)
}

func (c *WSClient) handleOTPStatus(id string) {
	info, err := tags.OTPStatus(context.Background())
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "otp", info)
}

func (c *WSClient) handleResetOTP(id string, payload json.RawMessage) {
	req, _, err := parseTagRequest(payload)
	if err != nil {
		c.sendError(id, "invalid payload")
		return
	}
	if req.ID == "" {
		c.sendError(id, "OTP reset is irreversible, send the id returned by otp_status")
		return
	}

	info, err := tags.ResetOTP(context.Background(), req.ID)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "otp_reset", info)
}

func (c *WSClient) handleSubscribe(id string, payload json.RawMessage) {
	var req struct {
		IntervalMs int `json:"intervalMs"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			c.sendError(id, "invalid payload")
			return
		}
	}

	if req.IntervalMs < 100 {
		req.IntervalMs = 500 // Default 500ms
	}
	interval := time.Duration(req.IntervalMs) * time.Millisecond

	c.mu.Lock()
	if c.pollStop != nil {
		close(c.pollStop)
	}
	c.subscribed = true
	stop := make(chan struct{})
	c.pollStop = stop
	c.mu.Unlock()

	go c.poll(tags, stop, interval)

	logging.Info(logging.CatWebSocket, "Client subscribed to tag events", map[string]any{
		"intervalMs": req.IntervalMs,
	})
	c.sendResponse(id, "subscribed", map[string]interface{}{
		"intervalMs": req.IntervalMs,
	})
}

// poll reports tag_detected when a new UID appears and tag_removed when
// the field empties. It runs until stop is closed.
func (c *WSClient) poll(svc TagService, stop <-chan struct{}, interval time.Duration) {
	defer logging.RecoverAndLog("WebSocket poll goroutine", false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		info, err := svc.ReadTag(ctx, settings.TagType(), false)
		cancel()

		c.mu.Lock()
		last := c.lastUID
		switch {
		case err != nil && last != "":
			c.lastUID = ""
		case err == nil && info.UID != last:
			c.lastUID = info.UID
		default:
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		if err != nil {
			logging.Info(logging.CatTag, "Tag removed", map[string]any{"uid": last})
			c.sendResponse("", "tag_removed", map[string]string{"uid": last})
			continue
		}
		logging.Info(logging.CatTag, "Tag detected", map[string]any{"uid": info.UID})
		c.sendResponse("", "tag_detected", info)
	}
}

func (c *WSClient) stopPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = false
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
}

func (c *WSClient) handleUnsubscribe(id string) {
	c.stopPolling()

	logging.Info(logging.CatWebSocket, "Client unsubscribed from tag events", nil)
	c.sendResponse(id, "unsubscribed", map[string]bool{"success": true})
}

func (c *WSClient) handleVersion(id string) {
	c.sendResponse(id, "version", map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func (c *WSClient) handleHealth(id string) {
	readers, err := tags.Readers()
	resp := map[string]interface{}{
		"status":      "ok",
		"readerCount": len(readers),
	}
	if err != nil {
		resp["status"] = "degraded"
	}
	c.sendResponse(id, "health", resp)
}
