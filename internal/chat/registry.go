package chat

import (
	"sync"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

const shardCount = 32

// Registry tracks which users have live connections on this process.
// State is sharded by murmur3 of the user id so concurrent connects,
// disconnects and deliveries for unrelated users don't contend on one
// lock. A user's entry is removed when their last connection goes away.
type Registry struct {
	shards [shardCount]registryShard
	logger *zap.Logger
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{}
}

func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]map[Conn]struct{})
	}
	return r
}

func (r *Registry) shardFor(userID string) *registryShard {
	return &r.shards[murmur3.Sum32([]byte(userID))%shardCount]
}

func (r *Registry) Register(userID string, conn Conn) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		s.conns[userID] = set
	}
	set[conn] = struct{}{}

	r.logger.Debug("connection registered",
		zap.String("user_id", userID),
		zap.Int("connections", len(set)))
}

// Unregister removes the connection and drops the user's entry when it was
// the last one.
func (r *Registry) Unregister(userID string, conn Conn) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.conns[userID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(s.conns, userID)
	}

	r.logger.Debug("connection unregistered",
		zap.String("user_id", userID),
		zap.Int("connections", len(set)))
}

// Connections returns how many live connections the user has.
func (r *Registry) Connections(userID string) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID])
}

// Deliver sends payload to every live connection for the user. A failed
// send never blocks the remaining connections; broken connections are
// pruned through the same path as an explicit disconnect. Returns the
// number of successful sends.
func (r *Registry) Deliver(userID string, payload []byte) int {
	s := r.shardFor(userID)

	s.mu.RLock()
	targets := make([]Conn, 0, len(s.conns[userID]))
	for conn := range s.conns[userID] {
		targets = append(targets, conn)
	}
	s.mu.RUnlock()

	delivered := 0
	var broken []Conn
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("delivery to connection failed, pruning",
				zap.String("user_id", userID),
				zap.Error(err))
			broken = append(broken, conn)
			continue
		}
		delivered++
	}

	for _, conn := range broken {
		r.Unregister(userID, conn)
		_ = conn.Close()
	}

	return delivered
}
