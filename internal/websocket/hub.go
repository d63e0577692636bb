package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
)

// StreamEvent represents a structured miner event for JSON serialization.
type StreamEvent struct {
	Time        string          `json:"time"`
	Event       string          `json:"event"`
	SetName     string          `json:"set_name,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	Action      string          `json:"action,omitempty"`
	LogCount    *int            `json:"log_count,omitempty"`
	Skipped     *int            `json:"skipped,omitempty"`
	PolicyCount *int            `json:"policy_count,omitempty"`
	Path        string          `json:"path,omitempty"`
	RedactionID string          `json:"redaction_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	InstanceID  string          `json:"instance_id,omitempty"`
	Seq         uint64          `json:"seq,omitempty"`
	StartedAt   string          `json:"started_at,omitempty"`
	UptimeSec   *int64          `json:"uptime_s,omitempty"`
	LastSeq     *uint64         `json:"last_seq,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// EventRingBuffer maintains a fixed-size buffer of recent events
type EventRingBuffer struct {
	events []StreamEvent // Fixed-size slice of parsed events
	head   int           // Next write position
	tail   int           // Oldest event position
	size   int           // Buffer capacity
	count  int           // Current number of events
	mutex  sync.RWMutex  // Thread safety
	full   bool          // Whether buffer has wrapped around
}

// NewEventRingBuffer creates a new ring buffer with the specified size
func NewEventRingBuffer(size int) *EventRingBuffer {
	if size <= 0 {
		size = 4096 // Default size
	}
	return &EventRingBuffer{
		events: make([]StreamEvent, size),
		size:   size,
	}
}

// Add adds a new event to the ring buffer
func (rb *EventRingBuffer) Add(event StreamEvent) {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size

	if rb.full {
		// Buffer is full, advance tail to maintain window
		rb.tail = (rb.tail + 1) % rb.size
	} else {
		rb.count++
		if rb.head == rb.tail && rb.count > 0 {
			rb.full = true
		}
	}
}

// GetAll returns all events in chronological order (oldest first)
func (rb *EventRingBuffer) GetAll() []StreamEvent {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	if rb.count == 0 {
		return []StreamEvent{}
	}

	result := make([]StreamEvent, rb.count)

	if !rb.full {
		// Buffer not full, events are from 0 to head-1
		copy(result, rb.events[:rb.count])
	} else {
		// Buffer is full, events wrap around
		// Copy from tail to end of buffer
		tailToEnd := rb.size - rb.tail
		copy(result, rb.events[rb.tail:])
		// Copy from start of buffer to head
		copy(result[tailToEnd:], rb.events[:rb.head])
	}

	return result
}

// GetTail returns up to the last n events (chronological order).
func (rb *EventRingBuffer) GetTail(n int) []StreamEvent {
	if n <= 0 {
		return []StreamEvent{}
	}
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	if rb.count == 0 {
		return []StreamEvent{}
	}

	if !rb.full {
		if n >= rb.count {
			out := make([]StreamEvent, rb.count)
			copy(out, rb.events[:rb.count])
			return out
		}
		out := make([]StreamEvent, n)
		copy(out, rb.events[rb.count-n:rb.count])
		return out
	}

	// full ring: recent events end at head-1; tail is oldest
	toTake := n
	if toTake > rb.size {
		toTake = rb.size
	}
	if toTake > rb.count {
		toTake = rb.count
	}
	// start index for last toTake events in ring coordinates
	start := (rb.head - toTake + rb.size) % rb.size
	out := make([]StreamEvent, toTake)
	if start < rb.head {
		// contiguous slice
		copy(out, rb.events[start:rb.head])
	} else {
		// wrapped around: copy start..end and 0..head
		first := rb.size - start
		copy(out, rb.events[start:])
		copy(out[first:], rb.events[:rb.head])
	}
	return out
}

// GetBulkNDJSON returns all events formatted as NDJSON for bulk transmission
func (rb *EventRingBuffer) GetBulkNDJSON() []byte {
	events := rb.GetAll()
	if len(events) == 0 {
		return []byte{}
	}

	var result strings.Builder
	for _, event := range events {
		if jsonData, err := json.Marshal(event); err == nil {
			result.Write(jsonData)
			result.WriteByte('\n')
		}
	}

	return []byte(result.String())
}

// encodeNDJSONLimited encodes events as NDJSON, ensuring the output
// does not exceed maxBytes. It preserves chronological order and returns
// the encoded bytes and the count of events included.
func encodeNDJSONLimited(events []StreamEvent, maxBytes int) ([]byte, int) {
	if maxBytes <= 0 {
		// no byte limit
		var sb strings.Builder
		included := 0
		for _, e := range events {
			if jsonData, err := json.Marshal(e); err == nil {
				sb.Write(jsonData)
				sb.WriteByte('\n')
				included++
			}
		}
		return []byte(sb.String()), included
	}

	// We prefer most recent events, but must preserve order.
	// Walk from the end backward to select as many as fit, then encode forward.

	// First pass: find how many from the end fit within maxBytes.
	budget := maxBytes
	startIdx := len(events) // exclusive
	for i := len(events) - 1; i >= 0; i-- {
		jsonData, err := json.Marshal(events[i])
		if err != nil {
			continue
		}
		cost := len(jsonData) + 1 // include newline
		if cost > budget {
			break
		}
		budget -= cost
		startIdx = i
	}

	if startIdx == len(events) {
		// nothing fit within budget
		return []byte{}, 0
	}

	// Second pass: encode from startIdx to end to preserve chronological order.
	var sb strings.Builder
	included := 0
	for i := startIdx; i < len(events); i++ {
		if jsonData, err := json.Marshal(events[i]); err == nil {
			sb.Write(jsonData)
			sb.WriteByte('\n')
			included++
		}
	}
	return []byte(sb.String()), included
}

// GetCount returns the current number of events in the buffer
func (rb *EventRingBuffer) GetCount() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.count
}

// WebSocketHub manages websocket client connections and broadcasts
type WebSocketHub struct {
	clients     map[string]*client
	broadcast   chan []byte
	register    chan *client
	unregister  chan *client
	unicast     chan clientSend
	incoming    chan ClientMessage
	mutex       sync.RWMutex
	eventBuffer *EventRingBuffer
	instanceID  string
	seq         uint64
	startTime   time.Time
	// limits for the initial bulk send on new connections
	bulkMaxEvents int
	bulkMaxBytes  int
}

const writeDeadline = 5 * time.Second
const heartbeatInterval = 10 * time.Second
const pongWait = 60 * time.Second
const pingInterval = 30 * time.Second

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	id      string
	conn    *gws.Conn
	send    chan []byte
	hub     *WebSocketHub
	closed  chan struct{}
	closeMu sync.Mutex
}

type clientSend struct {
	clientID string
	payload  []byte
}

// ClientMessage represents an inbound message from a websocket client.
type ClientMessage struct {
	ClientID string
	Payload  []byte
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(bufferSize int, bulkMaxEvents int, bulkMaxBytes int) *WebSocketHub {
	hub := &WebSocketHub{
		clients:       make(map[string]*client),
		broadcast:     make(chan []byte, 256),
		register:      make(chan *client),
		unregister:    make(chan *client),
		unicast:       make(chan clientSend, 128),
		incoming:      make(chan ClientMessage, 256),
		eventBuffer:   NewEventRingBuffer(bufferSize),
		instanceID:    uuid.NewString(),
		startTime:     time.Now(),
		bulkMaxEvents: bulkMaxEvents,
		bulkMaxBytes:  bulkMaxBytes,
	}

	hub.emitHello()

	return hub
}

// Run starts the hub's main loop
func (h *WebSocketHub) Run() {
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			log.Printf("WebSocket client connected. Total clients: %d", len(h.clients))

		case client := <-h.unregister:
			h.removeClient(client.id)

		case message := <-h.broadcast:
			for _, client := range h.snapshotClients() {
				h.enqueue(client, message)
			}

		case msg := <-h.unicast:
			if c := h.getClient(msg.clientID); c != nil {
				h.enqueue(c, msg.payload)
			}

		case <-heartbeatTicker.C:
			h.emitHeartbeat()
		}
	}
}

func (h *WebSocketHub) snapshotClients() []*client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *WebSocketHub) getClient(id string) *client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[id]
}

// enqueue delivers a payload to one client without blocking the hub loop.
// A full send buffer drops the oldest queued message, and a client that is
// already torn down is skipped instead of panicking on its closed channel.
func (h *WebSocketHub) enqueue(client *client, payload []byte) {
	client.closeMu.Lock()
	defer client.closeMu.Unlock()

	select {
	case <-client.closed:
		return
	default:
	}

	for {
		select {
		case client.send <- payload:
			return
		default:
		}
		select {
		case <-client.send:
			log.Printf("websocket: dropping oldest message for client %s (send buffer full)", client.id)
		default:
			// Zero-capacity channel and no reader; drop the new payload.
			return
		}
	}
}

func (h *WebSocketHub) removeClient(id string) {
	h.mutex.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mutex.Unlock()

	if ok && client != nil {
		client.close()
	}
	log.Printf("WebSocket client disconnected. Total clients: %d", len(h.clients))
}

// getHistoricalEvents returns all buffered events formatted as NDJSON
func (h *WebSocketHub) getHistoricalEvents() ([]byte, int) {
	// If limits are not set or invalid, fall back to full buffer
	if h.bulkMaxEvents <= 0 && h.bulkMaxBytes <= 0 {
		data := h.eventBuffer.GetBulkNDJSON()
		return data, h.eventBuffer.GetCount()
	}

	// Derive a sensible event limit
	maxEvents := h.bulkMaxEvents
	if maxEvents <= 0 {
		// if bytes limit only, start with full buffer and trim by bytes
		maxEvents = h.eventBuffer.GetCount()
	}
	events := h.eventBuffer.GetTail(maxEvents)

	// Encode with byte bound if set
	if h.bulkMaxBytes > 0 {
		return encodeNDJSONLimited(events, h.bulkMaxBytes)
	}
	// No byte bound, just encode all selected events
	var sb strings.Builder
	included := 0
	for _, e := range events {
		if jsonData, err := json.Marshal(e); err == nil {
			sb.Write(jsonData)
			sb.WriteByte('\n')
			included++
		}
	}
	return []byte(sb.String()), included
}

// Emit publishes a typed event to the buffer and all connected clients.
func (h *WebSocketHub) Emit(entry StreamEvent) {
	if strings.TrimSpace(entry.Event) == "" {
		return
	}
	h.emit(entry)
}

// EmitJSON publishes a structured event with the provided payload to all clients.
func (h *WebSocketHub) EmitJSON(event string, payload any) {
	if strings.TrimSpace(event) == "" {
		return
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to marshal websocket payload for %s: %v", event, err)
			return
		}
		raw = data
	}

	entry := StreamEvent{
		Event:   event,
		Payload: raw,
	}
	h.emit(entry)
}

// Incoming returns a channel for consuming raw messages from clients.
func (h *WebSocketHub) Incoming() <-chan ClientMessage {
	return h.incoming
}

// SendToClient queues a payload to a specific client by ID.
func (h *WebSocketHub) SendToClient(clientID string, payload []byte) error {
	if clientID == "" {
		return fmt.Errorf("client id required")
	}
	if h.getClient(clientID) == nil {
		return fmt.Errorf("client %s not found", clientID)
	}
	h.unicast <- clientSend{
		clientID: clientID,
		payload:  payload,
	}
	return nil
}

// SendJSONToClient marshals the value and sends it to the client.
func (h *WebSocketHub) SendJSONToClient(clientID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToClient(clientID, data)
}

func (h *WebSocketHub) emit(entry StreamEvent) {
	if entry.Time == "" {
		entry.Time = time.Now().Format(time.RFC3339)
	}
	entry.InstanceID = h.instanceID
	seq := atomic.AddUint64(&h.seq, 1)
	entry.Seq = seq

	h.eventBuffer.Add(entry)

	if jsonData, err := json.Marshal(entry); err == nil {
		select {
		case h.broadcast <- jsonData:
		default:
			// Channel is full, drop the message
		}
	}
}

// RecentEvents returns the newest events from the ring buffer. When limit <= 0
// all buffered events are returned.
func (h *WebSocketHub) RecentEvents(limit int) []StreamEvent {
	if limit <= 0 {
		return h.eventBuffer.GetAll()
	}
	return h.eventBuffer.GetTail(limit)
}

func (h *WebSocketHub) emitHello() {
	entry := StreamEvent{
		Time:      time.Now().Format(time.RFC3339),
		Event:     "miner.hello",
		StartedAt: h.startTime.Format(time.RFC3339),
	}
	h.emit(entry)
}

func (h *WebSocketHub) emitHeartbeat() {
	last := atomic.LoadUint64(&h.seq)
	lastSeq := last
	uptime := int64(time.Since(h.startTime).Seconds())
	entry := StreamEvent{
		Time:      time.Now().Format(time.RFC3339),
		Event:     "miner.heartbeat",
		UptimeSec: &uptime,
		LastSeq:   &lastSeq,
	}
	h.emit(entry)
}

// HandleWebSocket handles websocket connections
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// New connections always receive the bulk replay first, even when the
	// buffer is empty, so clients can treat the first frame uniformly.
	bulkEvents, included := h.getHistoricalEvents()

	if err := conn.WriteMessage(gws.TextMessage, bulkEvents); err != nil {
		log.Printf("Failed to send bulk message to client: %v", err)
		conn.Close()
		return
	}

	log.Printf("Sent bulk message with %d historical events (%d bytes) to new WebSocket client", included, len(bulkEvents))

	c := newClient(h, conn)
	h.register <- c

	// Keep connection alive and handle disconnections
	go c.writePump()
	go c.readPump()
}

func newClient(h *WebSocketHub, conn *gws.Conn) *client {
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		closed: make(chan struct{}),
	}
	return c
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(1 << 20) // 1 MiB
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseAbnormalClosure) {
				log.Printf("websocket read error (client %s): %v", c.id, err)
			}
			break
		}

		if msgType != gws.TextMessage {
			continue
		}

		select {
		case c.hub.incoming <- ClientMessage{ClientID: c.id, Payload: payload}:
		default:
			log.Printf("websocket: dropping inbound message for hub (client %s), channel full", c.id)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(gws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gws.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

func (c *client) close() {
	c.closeMu.Lock()
	select {
	case <-c.closed:
		// already closed
	default:
		close(c.closed)
		close(c.send)
		_ = c.conn.Close()
	}
	c.closeMu.Unlock()
}
