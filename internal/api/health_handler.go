package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
	"github.com/ignite/campaign-journeys/internal/service/analysis"
)

// Component states. "disabled" means the dependency is not configured in this
// deployment (for example --memory mode) and never affects the overall status.
const (
	componentUp       = "up"
	componentDegraded = "degraded"
	componentDown     = "down"
	componentDisabled = "disabled"
)

const (
	healthVersion = "1.0.0"

	// queueDepthWarning marks the queue degraded when more jobs wait.
	queueDepthWarning = 20
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status  string                    `json:"status"` // healthy, degraded or unhealthy
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the result of checking one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// QueueStatusProvider reports the analysis queue's contents.
type QueueStatusProvider interface {
	Status() analysis.QueueStatus
}

// dependency is one named health check.
type dependency struct {
	name string
	run  func(ctx context.Context) ComponentCheck
}

// HealthChecker checks Postgres, Redis and the analysis queue. Any of them
// may be nil.
type HealthChecker struct {
	deps    []dependency
	started time.Time
}

// NewHealthChecker creates a HealthChecker over the given dependencies.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, queue QueueStatusProvider) *HealthChecker {
	hc := &HealthChecker{started: time.Now()}

	dbCheck := disabledCheck
	if db != nil {
		dbCheck = pingCheck(3*time.Second, time.Second, db.PingContext)
	}
	redisCheck := disabledCheck
	if redisClient != nil {
		redisCheck = pingCheck(2*time.Second, 500*time.Millisecond, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	queueCheck := disabledCheck
	if queue != nil {
		queueCheck = func(context.Context) ComponentCheck { return checkQueue(queue.Status()) }
	}

	hc.deps = []dependency{
		{name: "database", run: dbCheck},
		{name: "redis", run: redisCheck},
		{name: "analysis_queue", run: queueCheck},
	}
	return hc
}

// HandleHealth reports every component. It always answers 200.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.check(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  hc.uptime(),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process is serving.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive", "uptime": hc.uptime()})
}

// HandleReadiness answers 503 when the service cannot serve traffic.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.check(r.Context())
	overall := determineOverallStatus(checks)

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]any{
		"ready":  overall != "unhealthy",
		"status": overall,
		"checks": checks,
	})
}

// check runs every dependency check concurrently.
func (hc *HealthChecker) check(ctx context.Context) map[string]ComponentCheck {
	results := make([]ComponentCheck, len(hc.deps))
	done := make(chan int, len(hc.deps))
	for i, p := range hc.deps {
		go func(i int, p dependency) {
			results[i] = p.run(ctx)
			done <- i
		}(i, p)
	}
	for range hc.deps {
		<-done
	}

	checks := make(map[string]ComponentCheck, len(hc.deps))
	for i, p := range hc.deps {
		checks[p.name] = results[i]
	}
	return checks
}

func (hc *HealthChecker) uptime() string {
	return time.Since(hc.started).Round(time.Second).String()
}

func disabledCheck(context.Context) ComponentCheck {
	return ComponentCheck{Status: componentDisabled, Message: "not configured"}
}

// pingCheck builds a dependency check that calls ping under timeout and reports
// degraded when the round trip exceeds slow.
func pingCheck(timeout, slow time.Duration, ping func(ctx context.Context) error) func(ctx context.Context) ComponentCheck {
	return func(ctx context.Context) ComponentCheck {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start)

		switch {
		case err != nil:
			return ComponentCheck{Status: componentDown, Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
		case latency > slow:
			return ComponentCheck{Status: componentDegraded, Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
		default:
			return ComponentCheck{Status: componentUp, Latency: latency.String()}
		}
	}
}

func checkQueue(st analysis.QueueStatus) ComponentCheck {
	depth := len(st.Queued)
	if depth > queueDepthWarning {
		return ComponentCheck{Status: componentDegraded, Message: fmt.Sprintf("%d analyses waiting", depth)}
	}
	if st.Current != "" {
		return ComponentCheck{Status: componentUp, Message: fmt.Sprintf("running %s, %d waiting", st.Current, depth)}
	}
	return ComponentCheck{Status: componentUp, Message: fmt.Sprintf("%d waiting", depth)}
}

// determineOverallStatus folds component checks into one status. A down
// database makes the service unhealthy; any other down or degraded
// component makes it degraded.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for name, c := range checks {
		switch c.Status {
		case componentDown:
			if name == "database" {
				return "unhealthy"
			}
			overall = "degraded"
		case componentDegraded:
			overall = "degraded"
		}
	}
	return overall
}
