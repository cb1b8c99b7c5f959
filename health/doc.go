// Package health checks the editor's backends: the system store, presence
// and the session registry.
//
// # Health Check Functions
//
//   - PingCheck: ask a client (Redis store, presence, etcd registry) to ping
//   - NetworkCheck: verify TCP connectivity to a host:port
//   - URLCheck: NetworkCheck against the host of a REST base URL
//   - FileCheck: verify a file such as a TLS certificate exists
//   - RunAll: run named checks concurrently and combine them
//
// # Health Status Priority
//
// When combining health checks with Combine(), the result follows this priority:
//
//   - Unhealthy: If any check is unhealthy, the combined result is unhealthy
//   - Degraded: If any check is degraded (and none unhealthy), the result is degraded
//   - Healthy: If all checks are healthy, the result is healthy
//
// Checks given a context without a deadline use DefaultTimeout.
package health
