// Package stream fans rendered frames and status events out to HTTP clients.
package stream

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxConcurrentConnections caps clients per manager.
	MaxConcurrentConnections = 256
	// HubBroadcastBuffer is the queue between producers and the fan-out loop.
	HubBroadcastBuffer = 64
	// KeepAliveInterval is how often idle SSE connections get a comment line.
	KeepAliveInterval = 30 * time.Second
	// CleanupInterval is how often stale clients are swept.
	CleanupInterval = 60 * time.Second
)

// Client is one connected HTTP consumer.
type Client[T any] struct {
	ID         string
	C          chan T
	RemoteAddr string
	UserAgent  string
	Connected  int64 // Unix timestamp

	lastSeen     atomic.Int64
	messagesSent atomic.Int64
	done         chan struct{}
	closeOnce    sync.Once
}

// Done is closed when the manager drops the client.
func (c *Client[T]) Done() <-chan struct{} { return c.done }

// MessagesSent counts values delivered to the client's queue.
func (c *Client[T]) MessagesSent() int64 { return c.messagesSent.Load() }

// Stats is a point-in-time view of a manager's counters.
type Stats struct {
	Name               string `json:"name"`
	ActiveConnections  int64  `json:"active_connections"`
	TotalMessages      int64  `json:"total_messages"`
	MaxConnections     int    `json:"max_connections"`
	DroppedBroadcasts  int64  `json:"dropped_broadcasts"`
	DroppedClientMsgs  int64  `json:"dropped_client_msgs"`
	RejectedConnection int64  `json:"rejected_connections"`
}

// ConnectionManager fans values of type T out to clients. Producers never
// block: a full hub queue drops the broadcast, a full client queue drops the
// value for that client only.
type ConnectionManager[T any] struct {
	name         string
	clientBuffer int

	// StaleAfter removes clients that received nothing for this long.
	StaleAfter time.Duration

	clients           sync.Map // *Client[T] -> struct{}
	activeCount       atomic.Int64
	totalMessages     atomic.Int64
	droppedBroadcasts atomic.Int64
	droppedClientMsgs atomic.Int64
	rejectedConns     atomic.Int64

	broadcast    chan T
	last         atomic.Pointer[T]
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewConnectionManager starts a manager whose clients each buffer
// clientBuffer values.
func NewConnectionManager[T any](name string, clientBuffer int) *ConnectionManager[T] {
	if clientBuffer < 1 {
		clientBuffer = 1
	}
	cm := &ConnectionManager[T]{
		name:         name,
		clientBuffer: clientBuffer,
		StaleAfter:   2 * CleanupInterval,
		broadcast:    make(chan T, HubBroadcastBuffer),
		shutdown:     make(chan struct{}),
	}
	go cm.runBroadcastLoop()
	go cm.cleanupRoutine()
	return cm
}

// Stats returns the manager's counters.
func (cm *ConnectionManager[T]) Stats() Stats {
	return Stats{
		Name:               cm.name,
		ActiveConnections:  cm.activeCount.Load(),
		TotalMessages:      cm.totalMessages.Load(),
		MaxConnections:     MaxConcurrentConnections,
		DroppedBroadcasts:  cm.droppedBroadcasts.Load(),
		DroppedClientMsgs:  cm.droppedClientMsgs.Load(),
		RejectedConnection: cm.rejectedConns.Load(),
	}
}

// Active returns the number of connected clients.
func (cm *ConnectionManager[T]) Active() int64 { return cm.activeCount.Load() }

// AddClient registers a client. It returns false when the manager is full
// or shut down.
func (cm *ConnectionManager[T]) AddClient(remoteAddr, userAgent string) (*Client[T], bool) {
	select {
	case <-cm.shutdown:
		return nil, false
	default:
	}
	if cm.activeCount.Load() >= MaxConcurrentConnections {
		cm.rejectedConns.Add(1)
		log.Printf("%s: connection limit reached (%d), rejecting %s", cm.name, MaxConcurrentConnections, remoteAddr)
		return nil, false
	}
	now := time.Now()
	c := &Client[T]{
		ID:         fmt.Sprintf("%d-%s", now.UnixNano(), remoteAddr),
		C:          make(chan T, cm.clientBuffer),
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		Connected:  now.Unix(),
		done:       make(chan struct{}),
	}
	c.lastSeen.Store(now.Unix())
	cm.clients.Store(c, struct{}{})
	cm.activeCount.Add(1)
	log.Printf("%s: client connected: %s (total: %d)", cm.name, c.ID, cm.activeCount.Load())
	return c, true
}

// RemoveClient unregisters c and closes its Done channel. The value channel
// is left open so a concurrent fan-out can never send on a closed channel.
func (cm *ConnectionManager[T]) RemoveClient(c *Client[T]) {
	if _, ok := cm.clients.LoadAndDelete(c); !ok {
		return
	}
	cm.activeCount.Add(-1)
	c.closeOnce.Do(func() { close(c.done) })
	log.Printf("%s: client disconnected: %s (total: %d)", cm.name, c.ID, cm.activeCount.Load())
}

// Broadcast queues v for every client and remembers it as the latest value.
func (cm *ConnectionManager[T]) Broadcast(v T) {
	cm.last.Store(&v)
	select {
	case cm.broadcast <- v:
	default:
		cm.droppedBroadcasts.Add(1)
	}
}

// Forget drops the remembered value so Last reports nothing until the next
// Broadcast.
func (cm *ConnectionManager[T]) Forget() { cm.last.Store(nil) }

// Last returns the most recently broadcast value.
func (cm *ConnectionManager[T]) Last() (T, bool) {
	p := cm.last.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

func (cm *ConnectionManager[T]) runBroadcastLoop() {
	for {
		select {
		case v := <-cm.broadcast:
			now := time.Now().Unix()
			cm.clients.Range(func(key, _ any) bool {
				c := key.(*Client[T])
				select {
				case c.C <- v:
					c.lastSeen.Store(now)
					c.messagesSent.Add(1)
					cm.totalMessages.Add(1)
				default:
					cm.droppedClientMsgs.Add(1)
				}
				return true
			})
		case <-cm.shutdown:
			return
		}
	}
}

func (cm *ConnectionManager[T]) cleanupRoutine() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cm.cleanupStaleConnections(time.Now())
		case <-cm.shutdown:
			return
		}
	}
}

func (cm *ConnectionManager[T]) cleanupStaleConnections(now time.Time) int {
	threshold := now.Add(-cm.StaleAfter).Unix()
	var stale []*Client[T]
	cm.clients.Range(func(key, _ any) bool {
		c := key.(*Client[T])
		if c.lastSeen.Load() < threshold {
			stale = append(stale, c)
		}
		return true
	})
	if len(stale) > 0 {
		log.Printf("%s: cleaning up %d stale connections", cm.name, len(stale))
	}
	for _, c := range stale {
		cm.RemoveClient(c)
	}
	return len(stale)
}

// Shutdown stops the fan-out and disconnects every client.
func (cm *ConnectionManager[T]) Shutdown() {
	cm.shutdownOnce.Do(func() {
		close(cm.shutdown)
		cm.clients.Range(func(key, _ any) bool {
			cm.RemoveClient(key.(*Client[T]))
			return true
		})
		log.Printf("%s: connection manager shutdown complete", cm.name)
	})
}
