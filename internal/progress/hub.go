package progress

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 8192
	sendBufferSize  = 256
	broadcastBuffer = 1024
)

// broadcastEnvelope is an event destined for every client subscribed to a
// plan ID.
type broadcastEnvelope struct {
	PlanID string
	Event  *ProgressEvent
}

// Hub fans out ProgressEvents to clients subscribed to a plan ID and
// relays their cancel requests to the plan controller. Adapted from the
// register/unregister/broadcast channel pattern used for the collaborative
// cursor-broadcast hub, repurposed from cursor/comment messages to
// dose-calculation and optimizer checkpoints.
type Hub struct {
	subscribers map[string]map[string]*Client // planID -> clientID -> Client

	broadcast  chan *broadcastEnvelope
	register   chan *Client
	unregister chan *Client

	cancelFuncsMu sync.RWMutex
	cancelFuncs   map[string]CancelFunc // planID -> cancel

	mu sync.RWMutex

	statsLock     sync.RWMutex
	stats         Statistics
	eventCount    int64
	lastStatsTime time.Time
	latencies     []float64
}

// NewHub creates a progress-broadcast hub.
func NewHub() *Hub {
	return &Hub{
		subscribers:   make(map[string]map[string]*Client),
		broadcast:     make(chan *broadcastEnvelope, broadcastBuffer),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		cancelFuncs:   make(map[string]CancelFunc),
		lastStatsTime: time.Now(),
		latencies:     make([]float64, 0, 1000),
	}
}

// Run starts the hub's main loop; call it once in its own goroutine.
func (h *Hub) Run() {
	log.Println("[PROGRESS] starting progress hub")

	go h.updateStatistics()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case env := <-h.broadcast:
			h.broadcastEvent(env)
		}
	}
}

// RegisterCancelFunc associates planID with the function that flips that
// plan's cooperative cancellation flag. The plan controller calls this
// before starting computation and removes it when the plan finishes.
func (h *Hub) RegisterCancelFunc(planID string, cancel CancelFunc) {
	h.cancelFuncsMu.Lock()
	defer h.cancelFuncsMu.Unlock()
	h.cancelFuncs[planID] = cancel
}

// UnregisterCancelFunc removes the cancellation hook for planID.
func (h *Hub) UnregisterCancelFunc(planID string) {
	h.cancelFuncsMu.Lock()
	defer h.cancelFuncsMu.Unlock()
	delete(h.cancelFuncs, planID)
}

// TriggerCancel invokes the cancellation hook registered for planID, for
// callers (e.g. an HTTP cancel endpoint) that are not themselves a
// subscribed WebSocket client sending a ControlCancel message. Reports
// whether a plan with a registered hook was found.
func (h *Hub) TriggerCancel(planID string) bool {
	h.cancelFuncsMu.RLock()
	cancel, ok := h.cancelFuncs[planID]
	h.cancelFuncsMu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[client.PlanID] == nil {
		h.subscribers[client.PlanID] = make(map[string]*Client)
	}
	h.subscribers[client.PlanID][client.ID] = client
	client.IsAlive = true
	client.LastHeartbeat = time.Now()

	log.Printf("[PROGRESS] client %s subscribed to plan %s", client.ID, client.PlanID)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.subscribers[client.PlanID]; ok {
		if _, exists := clients[client.ID]; exists {
			close(client.Send)
			delete(clients, client.ID)
			if len(clients) == 0 {
				delete(h.subscribers, client.PlanID)
			}
			log.Printf("[PROGRESS] client %s unsubscribed from plan %s", client.ID, client.PlanID)
		}
	}
}

func (h *Hub) broadcastEvent(env *broadcastEnvelope) {
	h.mu.RLock()
	clients := h.subscribers[env.PlanID]
	h.mu.RUnlock()

	if clients == nil {
		return
	}

	if env.Event.Timestamp > 0 {
		h.recordLatency(float64(time.Now().UnixMilli() - env.Event.Timestamp))
	}

	for id, client := range clients {
		if !client.IsAlive {
			continue
		}
		select {
		case client.Send <- env.Event:
		default:
			log.Printf("[PROGRESS] client %s send buffer full, dropping connection", id)
			h.unregister <- client
		}
	}

	h.eventCount++
}

// Publish emits event to every client subscribed to planID. Safe to call
// concurrently from the dose engine, optimizer, or plan controller.
func (h *Hub) Publish(planID string, event *ProgressEvent) {
	if event.ID == "" {
		event.ID = generateID()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	event.PlanID = planID

	h.broadcast <- &broadcastEnvelope{PlanID: planID, Event: event}
}

// GetSubscribers returns all clients currently subscribed to planID.
func (h *Hub) GetSubscribers(planID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.subscribers[planID]
	result := make([]*Client, 0, len(clients))
	for _, c := range clients {
		result = append(result, c)
	}
	return result
}

// Register enqueues a new client connection.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister enqueues a client for removal.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// ReadPump reads control messages from the client's connection until it
// closes, dispatching cancel/subscribe/heartbeat requests.
func (c *Client) ReadPump(hub *Hub) {
	defer func() {
		hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.LastHeartbeat = time.Now()
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[PROGRESS] read error for client %s: %v", c.ID, err)
			}
			break
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[PROGRESS] failed to parse control message from %s: %v", c.ID, err)
			continue
		}

		c.handleControl(&msg, hub)
	}
}

// WritePump writes queued progress events to the client's connection and
// pings it on an idle timer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				log.Printf("[PROGRESS] write error for client %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleControl(msg *ControlMessage, hub *Hub) {
	switch msg.Type {
	case ControlCancel:
		hub.cancelFuncsMu.RLock()
		cancel, ok := hub.cancelFuncs[msg.PlanID]
		hub.cancelFuncsMu.RUnlock()
		if ok {
			log.Printf("[PROGRESS] client %s requested cancellation of plan %s", c.ID, msg.PlanID)
			cancel()
		}

	case ControlSubscribe:
		hub.Unregister(c)
		c.PlanID = msg.PlanID
		c.Send = make(chan *ProgressEvent, sendBufferSize)
		hub.Register(c)

	case ControlHeartbeat:
		c.LastHeartbeat = time.Now()

	default:
		log.Printf("[PROGRESS] unknown control message type from %s: %s", c.ID, msg.Type)
	}
}

func (h *Hub) recordLatency(latency float64) {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()

	h.latencies = append(h.latencies, latency)
	if len(h.latencies) > 1000 {
		h.latencies = h.latencies[len(h.latencies)-1000:]
	}
}

func (h *Hub) updateStatistics() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		h.statsLock.Lock()

		now := time.Now()
		elapsed := now.Sub(h.lastStatsTime).Seconds()

		h.stats.EventsPerSecond = float64(h.eventCount) / elapsed
		h.eventCount = 0
		h.lastStatsTime = now

		if len(h.latencies) > 0 {
			h.stats.AvgLatencyMs = average(h.latencies)
			h.stats.P95LatencyMs = percentile(h.latencies, 0.95)
			h.stats.P99LatencyMs = percentile(h.latencies, 0.99)
		}

		h.mu.RLock()
		h.stats.ActiveSubscriptions = len(h.subscribers)
		total := 0
		for _, clients := range h.subscribers {
			total += len(clients)
		}
		h.stats.TotalClients = total
		h.mu.RUnlock()

		h.statsLock.Unlock()
	}
}

// GetStatistics returns a snapshot of hub throughput statistics.
func (h *Hub) GetStatistics() Statistics {
	h.statsLock.RLock()
	defer h.statsLock.RUnlock()
	return h.stats
}

// NewClient wraps a WebSocket connection as a Client subscribed to planID.
func NewClient(id, planID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     id,
		PlanID: planID,
		Conn:   conn,
		Send:   make(chan *ProgressEvent, sendBufferSize),
	}
}
