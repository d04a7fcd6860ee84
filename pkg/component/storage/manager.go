package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docchat/pkg/infra/pool"
)

// Manager manages multiple storage clients and provides centralized
// health checking and lifecycle management. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]Client
	pool    *pool.Pool
}

// NewManager creates a new storage manager instance.
// checks 可为 nil，此时健康检查直接启动 goroutine。
func NewManager(checks *pool.Pool) *Manager {
	return &Manager{
		clients: make(map[string]Client),
		pool:    checks,
	}
}

// Register registers a storage client with the given name.
func (m *Manager) Register(name string, client Client) error {
	if name == "" {
		return ErrInvalidConfig.WithMessage("client name cannot be empty")
	}
	if client == nil {
		return ErrInvalidConfig.WithMessage("client cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[name]; exists {
		return ErrClientAlreadyExists.WithMessage("storage client already registered: " + name)
	}
	m.clients[name] = client
	return nil
}

// Get retrieves a registered client by name.
func (m *Manager) Get(name string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[name]
	if !ok {
		return nil, ErrClientNotFound.WithMessage("storage client not found: " + name)
	}
	return client, nil
}

// List returns the sorted names of all registered clients.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll performs health checks on all registered clients concurrently.
// 使用 ants 池执行并行健康检查，提交失败时降级为直接创建 goroutine
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	m.mu.RLock()
	clients := make(map[string]Client, len(m.clients))
	for name, client := range m.clients {
		clients[name] = client
	}
	m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(clients))
	var statusMu sync.Mutex
	var wg sync.WaitGroup

	for name, client := range clients {
		wg.Add(1)
		task := func() {
			defer wg.Done()

			start := time.Now()
			err := client.Ping(ctx)

			statusMu.Lock()
			statuses[name] = HealthStatus{
				Name:    name,
				Healthy: err == nil,
				Latency: time.Since(start),
				Error:   err,
			}
			statusMu.Unlock()
		}

		if m.pool == nil || m.pool.Submit(task) != nil {
			go task()
		}
	}

	wg.Wait()
	return statuses
}

// CloseAll closes every client and clears the registry.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			logger.Warnw("failed to close storage client", "name", name, "error", err)
			errs = append(errs, err)
		}
	}
	m.clients = make(map[string]Client)
	return errors.Join(errs...)
}
