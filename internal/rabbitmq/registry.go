package rabbitmq

import (
	"log/slog"
	"sort"
	"sync"
)

// Role identifies one side of the relay
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
)

// Handle is an owned broker resource tracked by the registry
type Handle interface {
	IsClosed() bool
	Close() error
}

// Registry tracks the live broker connections by role. It is the single
// source of truth for what must be closed at shutdown.
type Registry struct {
	mu      sync.Mutex
	handles map[Role]Handle
	logger  *slog.Logger
}

// RegistryOption configures the registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		handles: make(map[Role]Handle),
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Register stores h under role. A handle previously registered under the
// same role is closed.
func (r *Registry) Register(role Role, h Handle) {
	r.mu.Lock()
	previous, ok := r.handles[role]
	r.handles[role] = h
	r.mu.Unlock()

	if ok && previous != h {
		r.close(role, previous)
	}
}

// Get returns the handle registered under role
func (r *Registry) Get(role Role) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[role]
	return h, ok
}

// Roles returns the registered roles in a stable order
func (r *Registry) Roles() []Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedRoles(r.handles)
}

// Len returns the number of registered handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll closes every registered handle that is still open and empties the
// registry. Close failures are logged and never returned. Safe to call any
// number of times.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[Role]Handle)
	r.mu.Unlock()

	for _, role := range sortedRoles(handles) {
		r.close(role, handles[role])
	}
}

// sortedRoles orders the source before the destination
func sortedRoles(handles map[Role]Handle) []Role {
	roles := make([]Role, 0, len(handles))
	for role := range handles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] > roles[j] })
	return roles
}

func (r *Registry) close(role Role, h Handle) {
	if h == nil || h.IsClosed() {
		r.logger.Debug("connection already closed", "role", role)
		return
	}

	if err := h.Close(); err != nil {
		r.logger.Warn("failed to close connection", "role", role, "error", err)
		return
	}

	r.logger.Info("connection closed", "role", role)
}
