// Package session registers live editor sessions in etcd.
//
// Each session holds a lease with the configured TTL and is stored under
// /{namespace}/projects/{projectId}/{sessionId}. Sessions vanish when the
// editor deregisters or stops renewing its lease, so other editors of the
// same project can tell who else has it open.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// DefaultNamespace is the key prefix used when Config.Namespace is empty.
	DefaultNamespace = "threatmodel"

	// DefaultTTL is the lease TTL used when Config.TTL is zero.
	DefaultTTL = 30 * time.Second
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("session registry is closed")

// Info describes one open editor session.
type Info struct {
	ProjectID string            `json:"project_id"`
	SessionID string            `json:"session_id"`
	User      string            `json:"user,omitempty"`
	Host      string            `json:"host,omitempty"`
	Version   string            `json:"version,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

// Validate checks the fields that make up the session key.
func (i Info) Validate() error {
	if i.ProjectID == "" {
		return errors.New("project id is required")
	}
	if i.SessionID == "" {
		return errors.New("session id is required")
	}
	return nil
}

// Config holds etcd connection settings.
type Config struct {
	// Endpoints is the list of etcd endpoints, e.g. ["localhost:2379"].
	Endpoints []string

	// Namespace prefixes every key. Default: "threatmodel".
	Namespace string

	// TTL is the lease time-to-live. Sessions must renew within this
	// interval or be removed. Default: 30s.
	TTL time.Duration

	// DialTimeout bounds the initial connection. Default: 5s.
	DialTimeout time.Duration

	// TLS enables mutual TLS when set and enabled.
	TLS *TLSConfig
}

func (c Config) namespace() string {
	if c.Namespace == "" {
		return DefaultNamespace
	}
	return c.Namespace
}

// ttlSeconds rounds the TTL up to whole seconds, the granularity of etcd
// leases.
func (c Config) ttlSeconds() int64 {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return 5 * time.Second
	}
	return c.DialTimeout
}

// Registry registers sessions and lists the sessions of a project.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	client    *clientv3.Client
	namespace string
	ttl       int64
	logger    *slog.Logger

	mu         sync.RWMutex
	leases     map[string]clientv3.LeaseID // key: session key
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// New connects to etcd and verifies connectivity with a read.
//
// The registry must be closed with Close to stop keepalive goroutines.
func New(cfg Config, logger *slog.Logger) (*Registry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("session registry endpoints cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.dialTimeout(),
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := cfg.TLS.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.dialTimeout())
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Registry{
		client:     cli,
		namespace:  cfg.namespace(),
		ttl:        cfg.ttlSeconds(),
		logger:     logger,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

// Register publishes the session and keeps its lease alive in the background
// until Deregister or Close. Registering the same session again replaces the
// entry and restarts the keepalive.
func (r *Registry) Register(ctx context.Context, info Info) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	key := buildKey(r.namespace, info.ProjectID, info.SessionID)

	// Cancel existing keepalive if re-registering
	if cancelFn, exists := r.cancelFns[key]; exists {
		cancelFn()
		delete(r.cancelFns, key)
	}

	leaseResp, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal session info: %w", err)
	}

	if _, err := r.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}

	r.leases[key] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	r.cancelFns[key] = cancel

	r.wg.Add(1)
	go r.keepalive(keepaliveCtx, leaseResp.ID, key)

	r.logger.Info("session registered", "project_id", info.ProjectID, "session_id", info.SessionID)
	return nil
}

// Deregister revokes the session's lease, which deletes its entry.
// Deregistering an unknown session is a no-op.
func (r *Registry) Deregister(ctx context.Context, info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	key := buildKey(r.namespace, info.ProjectID, info.SessionID)

	if cancelFn, exists := r.cancelFns[key]; exists {
		cancelFn()
		delete(r.cancelFns, key)
	}

	leaseID, exists := r.leases[key]
	if !exists {
		return nil
	}

	if _, err := r.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	delete(r.leases, key)

	r.logger.Info("session deregistered", "project_id", info.ProjectID, "session_id", info.SessionID)
	return nil
}

// Sessions lists the open sessions of a project ordered by start time.
func (r *Registry) Sessions(ctx context.Context, projectID string) ([]Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	return r.sessions(ctx, projectID)
}

func (r *Registry) sessions(ctx context.Context, projectID string) ([]Info, error) {
	resp, err := r.client.Get(ctx, projectPrefix(r.namespace, projectID), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	return decodeSessions(values, r.logger), nil
}

// Watch emits the project's session list now and after every change. The
// channel is closed when ctx is done or the registry is closed.
func (r *Registry) Watch(ctx context.Context, projectID string) (<-chan []Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan []Info, 1)

	current, err := r.sessions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ch <- current

	watchChan := r.client.Watch(ctx, projectPrefix(r.namespace, projectID), clientv3.WithPrefix())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if err := watchResp.Err(); err != nil {
					r.logger.Warn("session watch ended", "project_id", projectID, "error", err)
					return
				}

				// Fetch current state after any change
				current, err := r.sessions(ctx, projectID)
				if err != nil {
					continue
				}

				select {
				case ch <- current:
				case <-ctx.Done():
					return
				case <-r.closedChan:
					return
				}
			}
		}
	}()

	return ch, nil
}

// Ping reads a key to check that etcd is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	_, err := r.client.Get(ctx, "health-check")
	return err
}

// Close stops keepalives and watches and closes the etcd client. Leases are
// left to expire.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	for _, cancel := range r.cancelFns {
		cancel()
	}
	r.cancelFns = make(map[string]context.CancelFunc)

	close(r.closedChan)
	r.mu.Unlock()

	r.wg.Wait()

	return r.client.Close()
}

// keepalive renews the lease every TTL/3 until cancelled or the lease is
// gone.
func (r *Registry) keepalive(ctx context.Context, leaseID clientv3.LeaseID, key string) {
	defer r.wg.Done()

	ticker := time.NewTicker(keepaliveInterval(r.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closedChan:
			return
		case <-ticker.C:
			if _, err := r.client.KeepAliveOnce(ctx, leaseID); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("session lease lost", "key", key, "error", err)
				r.mu.Lock()
				delete(r.leases, key)
				delete(r.cancelFns, key)
				r.mu.Unlock()
				return
			}
		}
	}
}

func keepaliveInterval(ttlSeconds int64) time.Duration {
	return time.Duration(ttlSeconds) * time.Second / 3
}

// buildKey returns /namespace/projects/projectId/sessionId.
func buildKey(namespace, projectID, sessionID string) string {
	return projectPrefix(namespace, projectID) + sessionID
}

func projectPrefix(namespace, projectID string) string {
	return fmt.Sprintf("/%s/projects/%s/", namespace, projectID)
}

// decodeSessions parses stored entries, skipping malformed ones, and orders
// them by start time then session id.
func decodeSessions(values [][]byte, logger *slog.Logger) []Info {
	out := make([]Info, 0, len(values))
	for _, v := range values {
		var info Info
		if err := json.Unmarshal(v, &info); err != nil {
			logger.Warn("skipping malformed session entry", "error", err)
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}
