package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a check when the context has no deadline.
const DefaultTimeout = 5 * time.Second

// Pinger is implemented by clients that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports whether p answers a ping.
//
// Example:
//
//	status := health.PingCheck(ctx, "redis", store)
//	if status.IsUnhealthy() {
//	    log.Fatal(status.Message)
//	}
func PingCheck(ctx context.Context, name string, p Pinger) Status {
	if p == nil {
		return Unhealthy(fmt.Sprintf("%s is not configured", name), nil)
	}

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Unhealthy(
			fmt.Sprintf("%s is unreachable", name),
			map[string]any{
				"name":  name,
				"error": err.Error(),
			},
		)
	}

	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%s is reachable", name),
		Details: map[string]any{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// NetworkCheck verifies TCP connectivity to a host and port.
func NetworkCheck(ctx context.Context, host string, port int) Status {
	if host == "" {
		return Unhealthy("host cannot be empty", nil)
	}

	if port <= 0 || port > 65535 {
		return Unhealthy(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to connect to %s", address),
			map[string]any{
				"host":  host,
				"port":  port,
				"error": err.Error(),
			},
		)
	}
	_ = conn.Close()

	return Healthy(fmt.Sprintf("successfully connected to %s", address))
}

// URLCheck verifies TCP connectivity to the host of an http or https URL.
// The port defaults to the scheme's well-known port.
func URLCheck(ctx context.Context, rawURL string) Status {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Unhealthy(
			fmt.Sprintf("invalid URL %q", rawURL),
			map[string]any{"url": rawURL},
		)
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Unhealthy(fmt.Sprintf("invalid port in %q", rawURL), nil)
		}
		port = n
	}

	return NetworkCheck(ctx, u.Hostname(), port)
}

// FileCheck verifies that a file or directory exists at the specified path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(
				fmt.Sprintf("path '%s' does not exist", path),
				map[string]any{"path": path},
			)
		}

		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}

	fileType := "file"
	if info.IsDir() {
		fileType = "directory"
	}

	return Healthy(fmt.Sprintf("%s '%s' exists", fileType, path))
}

// Check is a named health check.
type Check struct {
	Name string
	Run  func(ctx context.Context) Status
}

// Result is the outcome of one Check.
type Result struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// RunAll runs the checks concurrently and returns their results in input
// order together with the combined status.
func RunAll(ctx context.Context, checks ...Check) (Status, []Result) {
	results := make([]Result, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = Result{Name: c.Name, Status: c.Run(gctx)}
			return nil
		})
	}
	_ = g.Wait()

	statuses := make([]Status, len(results))
	for i, r := range results {
		statuses[i] = r.Status
	}
	return Combine(statuses...), results
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, msg)
		case StatusDegraded:
			degradedChecks = append(degradedChecks, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthyChecks),
				"degraded":      len(degradedChecks),
				"healthy":       healthyCount,
				"failed_checks": unhealthyChecks,
			},
		)
	}

	if len(degradedChecks) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
