package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
	"github.com/MarcoPoloResearchLab/canvas/internal/queue"
	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// RouterConfig describes the dependencies of a Router.
type RouterConfig struct {
	Queue   queue.Store
	Stamper *queue.Stamper
	Clock   func() time.Time
	Logger  *zap.Logger
	Metrics *Metrics
}

// Router fans room events out to live connections and queues durable events
// for users without one. All work for one user happens under that user's
// slot lock, so replay on subscribe never interleaves with live publishes.
type Router struct {
	queue   queue.Store
	stamper *queue.Stamper
	clock   func() time.Time
	logger  *zap.Logger
	metrics *Metrics

	mu    sync.Mutex
	slots map[string]*userSlot
}

type userSlot struct {
	mu          sync.Mutex
	connections map[string]*Connection
}

// NewRouter validates the configuration and returns a Router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	stamper := cfg.Stamper
	if stamper == nil {
		stamper = queue.NewStamper(clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Router{
		queue:   cfg.Queue,
		stamper: stamper,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		slots:   make(map[string]*userSlot),
	}, nil
}

// Subscribe attaches an authenticated connection and replays the user's
// queued messages to it, oldest first, before any live event. greet runs
// after the queue is drained and before replay starts; it receives the
// number of pending messages. Subscribe returns the number replayed.
func (r *Router) Subscribe(ctx context.Context, conn *Connection, greet func(pending int) error) (int, error) {
	userID := conn.UserID()
	slot := r.lockSlot(userID)
	defer slot.mu.Unlock()
	defer r.release(userID, slot)

	messages, err := r.queue.Drain(ctx, userID)
	if err != nil {
		r.logger.Error("offline queue drain failed", zap.String("user_id", userID), zap.Error(err))
		return 0, err
	}
	if greet != nil {
		if err := greet(len(messages)); err != nil {
			pending := make([]outbound, 0, len(messages))
			for _, message := range messages {
				pending = append(pending, outbound{frame: message.Frame, durable: true})
			}
			r.requeue(ctx, userID, pending)
			return 0, err
		}
	}
	for index, message := range messages {
		if !conn.deliver(outbound{frame: message.Frame, durable: true}) {
			conn.waitWriter()
			pending := conn.unsent()
			for _, rest := range messages[index:] {
				pending = append(pending, outbound{frame: rest.Frame, durable: true})
			}
			r.requeue(ctx, userID, pending)
			return index, ErrTransport
		}
	}
	slot.connections[conn.ID()] = conn
	r.metrics.replayed.Add(int64(len(messages)))
	return len(messages), nil
}

// Unsubscribe detaches a connection whose writer has stopped. Frames that
// never reached the socket are queued again when the user has no other
// open connection.
func (r *Router) Unsubscribe(ctx context.Context, conn *Connection) {
	userID := conn.UserID()
	if userID == "" {
		return
	}
	slot := r.lockSlot(userID)
	defer slot.mu.Unlock()
	delete(slot.connections, conn.ID())
	pending := conn.unsent()
	if len(slot.connections) == 0 {
		r.requeue(ctx, userID, pending)
	}
	r.release(userID, slot)
}

// Publish implements collab.Broadcaster.
func (r *Router) Publish(ctx context.Context, recipients []string, event collab.Event) {
	frame, err := r.encode(event, "")
	if err != nil {
		r.logger.Error("event encoding failed", zap.String("room_id", event.RoomID), zap.Error(err))
		return
	}
	for _, userID := range recipients {
		r.publishTo(ctx, userID, outbound{frame: frame, durable: event.Durable})
	}
}

// Send implements collab.Broadcaster. The event reaches only the named
// connection and is never queued.
func (r *Router) Send(ctx context.Context, userID, connectionID string, event collab.Event) {
	frame, err := r.encode(event, connectionID)
	if err != nil {
		r.logger.Error("event encoding failed", zap.String("room_id", event.RoomID), zap.Error(err))
		return
	}
	slot := r.lockSlot(userID)
	defer slot.mu.Unlock()
	defer r.release(userID, slot)
	conn, ok := slot.connections[connectionID]
	if !ok {
		return
	}
	if !conn.offer(outbound{frame: frame}) {
		r.evict(ctx, userID, slot, conn, nil)
	}
}

// reply writes a frame addressed to one connection outside any room event.
func (r *Router) reply(ctx context.Context, conn *Connection, frame []byte) {
	if conn.isClosed() {
		return
	}
	slot := r.lockSlot(conn.UserID())
	defer slot.mu.Unlock()
	defer r.release(conn.UserID(), slot)
	if _, ok := slot.connections[conn.ID()]; !ok {
		return
	}
	if !conn.offer(outbound{frame: frame}) {
		r.evict(ctx, conn.UserID(), slot, conn, nil)
	}
}

func (r *Router) publishTo(ctx context.Context, userID string, item outbound) {
	slot := r.lockSlot(userID)
	defer slot.mu.Unlock()
	defer r.release(userID, slot)

	if len(slot.connections) == 0 {
		if item.durable {
			r.requeue(ctx, userID, []outbound{item})
		}
		return
	}
	for _, conn := range slot.connections {
		if conn.offer(item) {
			continue
		}
		var overflow []outbound
		if item.durable {
			overflow = []outbound{item}
		}
		r.evict(ctx, userID, slot, conn, overflow)
	}
}

// evict drops a connection whose buffer is full. Called with the slot lock
// held.
func (r *Router) evict(ctx context.Context, userID string, slot *userSlot, conn *Connection, overflow []outbound) {
	delete(slot.connections, conn.ID())
	r.metrics.sendFailures.Add(1)
	r.logger.Warn("connection buffer overflow",
		zap.String("user_id", userID),
		zap.String("connection_id", conn.ID()),
	)
	pending := append(drainBuffer(conn), overflow...)
	if len(slot.connections) == 0 {
		r.requeue(ctx, userID, pending)
	}
	go conn.close(closeCodeOverflow, "send buffer overflow")
}

func drainBuffer(conn *Connection) []outbound {
	var items []outbound
	for {
		select {
		case item := <-conn.buffer:
			items = append(items, item)
		default:
			return items
		}
	}
}

// requeue stores the durable items in order. Called with the slot lock held.
func (r *Router) requeue(ctx context.Context, userID string, items []outbound) {
	for _, item := range items {
		if !item.durable {
			continue
		}
		message, err := r.stamper.NewMessage(userID, item.frame)
		if err == nil {
			err = r.queue.Enqueue(ctx, message)
		}
		if err != nil {
			r.logger.Error("offline enqueue failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		r.metrics.queued.Add(1)
	}
}

func (r *Router) encode(event collab.Event, sessionID string) ([]byte, error) {
	if event.Type == "" {
		return nil, errors.New("event type is required")
	}
	return encodeFrame(frameHeader{
		Type:      string(event.Type),
		SessionID: sessionID,
		RoomID:    event.RoomID,
	}, event.Payload, r.clock())
}

// lockSlot returns the user's registered slot with its lock held. A slot
// released while the caller waited is skipped.
func (r *Router) lockSlot(userID string) *userSlot {
	for {
		r.mu.Lock()
		slot, ok := r.slots[userID]
		if !ok {
			slot = &userSlot{connections: make(map[string]*Connection)}
			r.slots[userID] = slot
		}
		r.mu.Unlock()

		slot.mu.Lock()
		r.mu.Lock()
		current := r.slots[userID] == slot
		r.mu.Unlock()
		if current {
			return slot
		}
		slot.mu.Unlock()
	}
}

// release forgets an empty slot. Called with the slot lock held; a slot is
// only removed while it is still the registered one.
func (r *Router) release(userID string, slot *userSlot) {
	if len(slot.connections) > 0 {
		return
	}
	r.mu.Lock()
	if r.slots[userID] == slot {
		delete(r.slots, userID)
	}
	r.mu.Unlock()
}

// Connections reports the number of live subscribed connections of a user.
func (r *Router) Connections(userID string) int {
	slot := r.lockSlot(userID)
	defer slot.mu.Unlock()
	defer r.release(userID, slot)
	return len(slot.connections)
}
