package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/buildgraph/pkg/types"
)

// HealthStatus is the JSON body served on /health and /ready.
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy"/"unhealthy", "ready"/"not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// ComponentHealth tracks the health of a single non-node component
// (the scheduler, the build manager, ...).
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// NodeSnapshot is one tracked node's current lifecycle view, as reported
// live by whatever registered itself via RegisterNodeSource. Listening is
// true while the node is still waiting on its handshake (node.StateListening);
// Since is when that wait began, so readiness can detect a node stuck past
// its connect timeout instead of just "exists or doesn't" (§4.2, §6
// NODECONNECTIONTIMEOUT).
type NodeSnapshot struct {
	Kind      types.NodeKind
	Listening bool
	Since     time.Time
}

// NodeSource supplies a point-in-time view of every tracked node.
// nodemanager.NodeManager implements this; readiness checks pull from it
// directly rather than relying on a push-and-forget copy that could drift
// from the manager's actual state.
type NodeSource interface {
	NodeSnapshots() []NodeSnapshot
}

var (
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
)

// HealthChecker manages health and readiness checks for the running
// buildctl process: generic named components plus, where one has been
// registered, a live view of the node pool.
type HealthChecker struct {
	mu             sync.RWMutex
	components     map[string]ComponentHealth
	nodeSource     NodeSource
	connectTimeout time.Duration
	startTime      time.Time
	version        string
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterNodeSource wires a live node-pool view (normally a
// *nodemanager.NodeManager) into readiness checks. SetNodeConnectTimeout
// should be called alongside it so staleness has something to compare
// against.
func RegisterNodeSource(src NodeSource) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.nodeSource = src
}

// SetNodeConnectTimeout records the connect timeout a node is allowed to
// spend in StateListening before GetReadiness considers it stuck.
func SetNodeConnectTimeout(d time.Duration) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.connectTimeout = d
}

// RegisterComponent registers a component for health checking
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent updates the health status of a component
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message) // Same implementation
}

// GetHealth returns the overall health status
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)

	for name, comp := range healthChecker.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		} else {
			components[name] = "healthy"
		}
	}

	uptime := time.Since(healthChecker.startTime)

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    healthChecker.version,
		Uptime:     uptime.String(),
		StartTime:  healthChecker.startTime,
	}
}

// GetReadiness returns readiness status: the generic critical components
// (scheduler, buildmanager) plus, when a node source is registered, one
// entry per NodeKind currently tracked and a staleness check flagging any
// node that has been waiting on its handshake longer than the configured
// connect timeout — a node stuck in that state will never become active on
// its own and readiness should say so rather than report "ready" forever.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	for _, name := range []string{"scheduler", "buildmanager"} {
		if comp, exists := healthChecker.components[name]; exists {
			if !comp.Healthy {
				status = "not_ready"
				message = "waiting for " + name
				components[name] = "not ready: " + comp.Message
			} else {
				components[name] = "ready"
			}
		} else {
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		}
	}

	if healthChecker.nodeSource != nil {
		readinessFromNodes(healthChecker.nodeSource.NodeSnapshots(), healthChecker.connectTimeout, components, &status, &message)
	}

	uptime := time.Since(healthChecker.startTime)

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    healthChecker.version,
		Uptime:     uptime.String(),
		StartTime:  healthChecker.startTime,
	}
}

// readinessFromNodes folds a node-source snapshot into components/status/
// message: one "node:<kind>" entry per kind present, "stale" for any node
// still listening past connectTimeout (connectTimeout <= 0 disables the
// check, since buildctl's own default always sets a positive value).
func readinessFromNodes(nodes []NodeSnapshot, connectTimeout time.Duration, components map[string]string, status, message *string) {
	now := time.Now()
	counts := make(map[types.NodeKind]int)
	stale := make(map[types.NodeKind]int)

	for _, n := range nodes {
		counts[n.Kind]++
		if n.Listening && connectTimeout > 0 && now.Sub(n.Since) > connectTimeout {
			stale[n.Kind]++
		}
	}

	for kind, count := range counts {
		key := "node:" + kind.String()
		if n := stale[kind]; n > 0 {
			*status = "not_ready"
			*message = fmt.Sprintf("%d %s node(s) stuck past connect timeout", n, kind)
			components[key] = fmt.Sprintf("%d tracked, %d stale", count, n)
		} else {
			components[key] = fmt.Sprintf("%d tracked", count)
		}
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler returns a simple liveness check (always returns 200 if process is running)
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
