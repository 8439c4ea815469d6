// Health monitoring for one Session, adapted from the quality-scoring
// approach of a multi-session collector: per-source thresholds on
// jitter and packet loss roll up into a quality score and a small set
// of deduplicated issues/recommendations.
package rtp

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// QualityThresholds set the boundaries PerformHealthCheck judges
// sources against. Values above the "Max" threshold are critical;
// jitter above 70% of MaxJitter and loss above 50% of MaxPacketLoss
// are a warning.
type QualityThresholds struct {
	MaxJitter      float64 // timestamp units, RFC 3550 Appendix A.8
	MaxPacketLoss  float64 // fraction, 0..1
	StaleAfter     time.Duration
	MaxGoroutines  int
}

func (q *QualityThresholds) applyDefaults() {
	if q.MaxJitter <= 0 {
		q.MaxJitter = 1000
	}
	if q.MaxPacketLoss <= 0 {
		q.MaxPacketLoss = 0.05
	}
	if q.StaleAfter <= 0 {
		q.StaleAfter = 30 * time.Second
	}
	if q.MaxGoroutines <= 0 {
		q.MaxGoroutines = 1000
	}
}

// HealthIssue is one deduplicated condition the monitor noticed.
type HealthIssue struct {
	Severity  string // "warning", "critical"
	Component string // "source", "system"
	Message   string
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int
}

// SourceHealth is the evaluated state of one remote source.
type SourceHealth struct {
	SSRC             uint32    `json:"ssrc"`
	Status           string    `json:"status"`
	QualityScore     int       `json:"quality_score"`
	LastActivity     time.Time `json:"last_activity"`
	JitterStatus     string    `json:"jitter_status"`
	PacketLossStatus string    `json:"packet_loss_status"`
	Issues           []string  `json:"issues"`
	Warnings         []string  `json:"warnings"`
}

// SystemHealth captures process-level signal, not network quality.
type SystemHealth struct {
	Status           string `json:"status"`
	GoroutinesCount  int    `json:"goroutines_count"`
	GoroutineWarning bool   `json:"goroutine_warning"`
}

// HealthStatus is the full point-in-time snapshot returned by
// GetHealthStatus.
type HealthStatus struct {
	Status          string                  `json:"status"`
	QualityScore    int                     `json:"quality_score"`
	Uptime          time.Duration           `json:"uptime"`
	Issues          []HealthIssue           `json:"issues"`
	LastCheck       time.Time               `json:"last_check"`
	SourceHealth    map[uint32]SourceHealth `json:"source_health"`
	SystemHealth    SystemHealth            `json:"system_health"`
	Recommendations []string                `json:"recommendations"`
}

// HealthMonitorConfig configures one HealthMonitor.
type HealthMonitorConfig struct {
	Thresholds    QualityThresholds
	CheckInterval time.Duration
}

func (c *HealthMonitorConfig) applyDefaults() {
	c.Thresholds.applyDefaults()
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
}

// HealthMonitor periodically scores one Session's source table and
// keeps a small rolling issue log.
type HealthMonitor struct {
	session   *Session
	config    HealthMonitorConfig
	logger    *Logger
	startTime time.Time

	mutex        sync.RWMutex
	issues       []HealthIssue
	qualityScore int
	status       string
	lastCheck    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor builds a monitor for session. Start must be called
// to begin the periodic check loop; GetHealthStatus/UpdateHealth work
// without it for on-demand use.
func NewHealthMonitor(session *Session, config HealthMonitorConfig) *HealthMonitor {
	config.applyDefaults()
	return &HealthMonitor{
		session:      session,
		config:       config,
		logger:       session.logger.WithComponent("health"),
		startTime:    time.Now(),
		qualityScore: 100,
		status:       "healthy",
	}
}

// Start launches the periodic check loop until Stop is called or ctx
// is cancelled.
func (hm *HealthMonitor) Start(ctx context.Context) {
	hm.ctx, hm.cancel = context.WithCancel(ctx)
	hm.wg.Add(1)
	go hm.loop()
}

// Stop ends the periodic check loop and waits for it to exit.
func (hm *HealthMonitor) Stop() {
	if hm.cancel != nil {
		hm.cancel()
	}
	hm.wg.Wait()
}

func (hm *HealthMonitor) loop() {
	defer hm.wg.Done()
	ticker := time.NewTicker(hm.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.PerformHealthCheck()
		}
	}
}

// UpdateHealth recomputes the quality score, issue log and overall
// status from the session's current source table.
func (hm *HealthMonitor) UpdateHealth() {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	sources := hm.session.Sources()
	sourceHealth := make(map[uint32]SourceHealth, len(sources))
	totalQuality := 0
	for ssrc, src := range sources {
		h := hm.evaluateSource(ssrc, src)
		sourceHealth[ssrc] = h
		totalQuality += h.QualityScore
		for _, issue := range h.Issues {
			hm.addIssueLocked("critical", "source", issue)
		}
		for _, warning := range h.Warnings {
			hm.addIssueLocked("warning", "source", warning)
		}
	}
	if len(sourceHealth) > 0 {
		hm.qualityScore = totalQuality / len(sourceHealth)
	} else {
		hm.qualityScore = 100
	}

	system := hm.evaluateSystem()
	if system.GoroutineWarning {
		hm.addIssueLocked("warning", "system", fmt.Sprintf("high goroutine count: %d", system.GoroutinesCount))
	}

	hm.status = hm.determineOverallStatus(sourceHealth, system)
	hm.lastCheck = time.Now()
}

func (hm *HealthMonitor) evaluateSource(ssrc uint32, src RemoteSource) SourceHealth {
	t := hm.config.Thresholds
	h := SourceHealth{
		SSRC:         ssrc,
		LastActivity: src.LastSeen,
		Issues:       []string{},
		Warnings:     []string{},
	}
	points := 100

	jitter := src.Stats.Jitter
	switch {
	case jitter > t.MaxJitter:
		h.JitterStatus = "critical"
		h.Issues = append(h.Issues, fmt.Sprintf("high jitter on ssrc %08x: %.1f", ssrc, jitter))
		points -= 30
	case jitter > t.MaxJitter*0.7:
		h.JitterStatus = "warning"
		h.Warnings = append(h.Warnings, fmt.Sprintf("elevated jitter on ssrc %08x: %.1f", ssrc, jitter))
		points -= 15
	default:
		h.JitterStatus = "good"
	}

	lossFraction := float64(src.Stats.FractionLost) / 256.0
	switch {
	case lossFraction > t.MaxPacketLoss:
		h.PacketLossStatus = "critical"
		h.Issues = append(h.Issues, fmt.Sprintf("high packet loss on ssrc %08x: %.1f%%", ssrc, lossFraction*100))
		points -= 25
	case lossFraction > t.MaxPacketLoss*0.5:
		h.PacketLossStatus = "warning"
		h.Warnings = append(h.Warnings, fmt.Sprintf("elevated packet loss on ssrc %08x: %.1f%%", ssrc, lossFraction*100))
		points -= 10
	default:
		h.PacketLossStatus = "good"
	}

	if time.Since(src.LastSeen) > t.StaleAfter {
		h.Warnings = append(h.Warnings, fmt.Sprintf("ssrc %08x inactive for %s", ssrc, time.Since(src.LastSeen).Round(time.Second)))
		points -= 5
	}

	if points < 0 {
		points = 0
	}
	h.QualityScore = points
	switch {
	case points >= 80:
		h.Status = "healthy"
	case points >= 50:
		h.Status = "degraded"
	default:
		h.Status = "unhealthy"
	}
	return h
}

func (hm *HealthMonitor) evaluateSystem() SystemHealth {
	n := runtime.NumGoroutine()
	h := SystemHealth{
		GoroutinesCount:  n,
		GoroutineWarning: n > hm.config.Thresholds.MaxGoroutines,
	}
	if h.GoroutineWarning {
		h.Status = "warning"
	} else {
		h.Status = "healthy"
	}
	return h
}

func (hm *HealthMonitor) determineOverallStatus(sources map[uint32]SourceHealth, system SystemHealth) string {
	if system.Status == "critical" {
		return "unhealthy"
	}
	if len(sources) == 0 {
		if system.Status == "warning" {
			return "degraded"
		}
		return "healthy"
	}
	unhealthy, degraded := 0, 0
	for _, s := range sources {
		switch s.Status {
		case "unhealthy":
			unhealthy++
		case "degraded":
			degraded++
		}
	}
	total := len(sources)
	if float64(unhealthy)/float64(total) > 0.5 {
		return "unhealthy"
	}
	if float64(unhealthy+degraded)/float64(total) > 0.3 || system.Status == "warning" {
		return "degraded"
	}
	return "healthy"
}

func (hm *HealthMonitor) addIssueLocked(severity, component, message string) {
	now := time.Now()
	for i := range hm.issues {
		if hm.issues[i].Message == message && hm.issues[i].Component == component {
			hm.issues[i].Count++
			hm.issues[i].LastSeen = now
			return
		}
	}
	hm.issues = append(hm.issues, HealthIssue{
		Severity: severity, Component: component, Message: message,
		FirstSeen: now, LastSeen: now, Count: 1,
	})
}

// GetHealthStatus returns the latest snapshot, recomputing it first.
func (hm *HealthMonitor) GetHealthStatus() *HealthStatus {
	hm.UpdateHealth()

	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	sources := hm.session.Sources()
	sourceHealth := make(map[uint32]SourceHealth, len(sources))
	for ssrc, src := range sources {
		sourceHealth[ssrc] = hm.evaluateSource(ssrc, src)
	}

	issuesCopy := make([]HealthIssue, len(hm.issues))
	copy(issuesCopy, hm.issues)

	return &HealthStatus{
		Status:          hm.status,
		QualityScore:    hm.qualityScore,
		Uptime:          time.Since(hm.startTime),
		Issues:          issuesCopy,
		LastCheck:       hm.lastCheck,
		SourceHealth:    sourceHealth,
		SystemHealth:    hm.evaluateSystem(),
		Recommendations: hm.generateRecommendations(),
	}
}

func (hm *HealthMonitor) generateRecommendations() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, issue := range hm.issues {
		switch {
		case issue.Component == "source" && issue.Severity == "critical":
			add("check network path and jitter buffer sizing for the affected source")
		case issue.Component == "system":
			add("investigate goroutine growth, possible leaked receive loop")
		}
	}
	return out
}

// PerformHealthCheck recomputes health and logs a line when the
// overall status is not healthy or a critical issue is present.
func (hm *HealthMonitor) PerformHealthCheck() {
	hm.UpdateHealth()

	hm.mutex.RLock()
	status := hm.status
	score := hm.qualityScore
	var criticals []HealthIssue
	for _, issue := range hm.issues {
		if issue.Severity == "critical" {
			criticals = append(criticals, issue)
		}
	}
	hm.mutex.RUnlock()

	for _, issue := range criticals {
		hm.logger.Warn("health issue", String("component", issue.Component), String("message", issue.Message), Int("count", issue.Count))
	}
	if status != "healthy" {
		hm.logger.Info("session health", String("status", status), Int("quality_score", score))
	}
}
