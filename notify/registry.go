package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeDeadline = 10 * time.Second

var errUnknownMonitor = errors.New("unknown monitor")

// Conn is the part of *websocket.Conn the registry writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type monitor struct {
	mu   sync.Mutex // gorilla allows one concurrent writer
	conn Conn
}

func (m *monitor) write(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return m.conn.WriteMessage(messageType, data)
}

// Registry holds the live monitor connections. A connection is added when a
// monitor connects and removed when it disconnects or a write to it fails.
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*monitor
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{monitors: make(map[string]*monitor), logger: logger}
}

// Add registers conn and returns its generated ID.
func (r *Registry) Add(conn Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.monitors[id] = &monitor{conn: conn}
	r.mu.Unlock()
	r.logger.Info("monitor connected", zap.String("monitor_id", id))
	return id
}

// Remove closes and forgets the connection. Unknown IDs are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	m, ok := r.monitors[id]
	delete(r.monitors, id)
	r.mu.Unlock()
	if ok {
		_ = m.conn.Close()
		r.logger.Info("monitor disconnected", zap.String("monitor_id", id))
	}
}

// Send writes payload to one connection. A failed write drops it.
func (r *Registry) Send(id string, payload []byte) error {
	r.mu.RLock()
	m, ok := r.monitors[id]
	r.mu.RUnlock()
	if !ok {
		return errUnknownMonitor
	}
	if err := m.write(websocket.TextMessage, payload); err != nil {
		r.Remove(id)
		return err
	}
	return nil
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Broadcast writes payload to every connection and drops those that fail.
// It returns how many writes succeeded.
func (r *Registry) Broadcast(payload []byte) int {
	return r.each(websocket.TextMessage, payload)
}

// Sweep pings every connection and prunes the dead ones. It returns the
// number of connections removed.
func (r *Registry) Sweep() int {
	before := r.Len()
	alive := r.each(websocket.PingMessage, nil)
	if pruned := before - alive; pruned > 0 {
		return pruned
	}
	return 0
}

// CloseAll disconnects every monitor.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*monitor)
	r.mu.Unlock()
	for _, m := range monitors {
		_ = m.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		_ = m.conn.Close()
	}
}

func (r *Registry) each(messageType int, payload []byte) int {
	r.mu.RLock()
	snapshot := make(map[string]*monitor, len(r.monitors))
	for id, m := range r.monitors {
		snapshot[id] = m
	}
	r.mu.RUnlock()

	ok := 0
	for id, m := range snapshot {
		if err := m.write(messageType, payload); err != nil {
			r.logger.Debug("monitor write failed", zap.String("monitor_id", id), zap.Error(err))
			r.Remove(id)
			continue
		}
		ok++
	}
	return ok
}
