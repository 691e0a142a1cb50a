package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"classifieds-messaging/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one dependency
type Check func(ctx context.Context) error

type registered struct {
	check    Check
	critical bool
}

// Checker runs health checks periodically and caches the results
type Checker struct {
	checks      map[string]registered
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
	listeners   []func(healthy bool)
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Checker{
		checks:      make(map[string]registered),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     2 * time.Second,
		log:         log,
	}
}

// RegisterCheck registers a new health check. A failing critical check
// marks the whole service unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registered{check: check, critical: critical}
	c.components[name] = &Component{
		Name:     name,
		Status:   StatusDown,
		Critical: critical,
		Error:    "not checked yet",
	}
}

// OnChange registers fn to be called with the overall result after every run
func (c *Checker) OnChange(fn func(healthy bool)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listeners = append(c.listeners, fn)
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mutex.RUnlock()

	results := make(map[string]error, len(checks))
	for name, r := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		results[name] = r.check(checkCtx)
		cancel()
	}

	c.mutex.Lock()
	now := time.Now()
	for name, err := range results {
		component := c.components[name]
		component.LastChecked = now
		if err != nil {
			component.Status = StatusDown
			component.Error = err.Error()
			c.log.Error("Health check failed", "component", name, "error", err.Error())
		} else {
			component.Status = StatusUp
			component.Error = ""
		}
	}
	healthy := c.healthyLocked()
	listeners := append([]func(bool){}, c.listeners...)
	c.mutex.Unlock()

	for _, fn := range listeners {
		fn(healthy)
	}
}

// Start runs the checks now and then every check period until ctx is done
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// GetStatus returns a copy of the current component states
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}
	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.healthyLocked()
}

func (c *Checker) healthyLocked() bool {
	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// Handler serves the cached health report
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status, code := "ok", http.StatusOK
		if !c.IsSystemHealthy() {
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":     status,
			"timestamp":  time.Now().UTC(),
			"components": c.GetStatus(),
		})
	}
}
