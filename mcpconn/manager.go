package mcpconn

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager owns a set of named connections. Registration is cheap: nothing
// starts until a session first lists or calls tools on a connection. A
// background reaper tears down connections that sit idle past their
// configured idle timeout, and CloseAll shuts everything down with a
// bounded grace period.
type Manager struct {
	connections map[string]*Connection
	logger      *slog.Logger

	mu     sync.RWMutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// ReapInterval is how often idle connections are checked
	// (defaults to 30s).
	ReapInterval time.Duration
}

// NewManager creates a manager and starts its idle reaper.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.ReapInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	m := &Manager{
		connections: make(map[string]*Connection),
		logger:      logger,
		stopCh:      make(chan struct{}),
	}

	m.wg.Add(1)
	go m.reapLoop(interval)
	return m
}

// Register adds a connection for the given server config. Fails when the
// name is already registered.
func (m *Manager) Register(cfg Config) error {
	conn, err := NewConnection(cfg, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.connections[cfg.Name]; exists {
		return fmt.Errorf("server %s is already registered", cfg.Name)
	}
	m.connections[cfg.Name] = conn
	m.logger.Debug("mcp server registered", "server", cfg.Name, "transport", cfg.Transport())
	return nil
}

// Get returns the connection for a server name.
func (m *Manager) Get(name string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[name]
	if !ok {
		return nil, fmt.Errorf("server not found: %s", name)
	}
	return conn, nil
}

// Names returns the registered server names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	return names
}

// reapLoop closes connections that have been idle past their configured
// idle timeout.
func (m *Manager) reapLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) reapIdle() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		idle := conn.cfg.IdleTimeout
		if idle == 0 || !conn.Started() {
			continue
		}
		if since := conn.IdleSince(); since > idle {
			m.logger.Info("closing idle mcp connection", "server", conn.Name(), "idle", since.Round(time.Second))
			if err := conn.Close(); err != nil {
				m.logger.Warn("idle close failed", "server", conn.Name(), "error", err)
			}
		}
	}
}

// CloseAll stops the reaper and closes every connection, allowing each up
// to grace before force-killing its process. Returns the first error seen.
func (m *Manager) CloseAll(grace time.Duration) error {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()

	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var firstErr error
	var closeWG sync.WaitGroup
	errCh := make(chan error, len(conns))
	for _, conn := range conns {
		closeWG.Add(1)
		go func(c *Connection) {
			defer closeWG.Done()
			if err := c.CloseWithGrace(grace); err != nil {
				errCh <- err
			}
		}(conn)
	}
	closeWG.Wait()
	close(errCh)
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
