package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/pulse/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	defaultSeverity = "warning"

	// resolvedKeep bounds the resolved-alert history; resolvedWindow is how
	// long a resolved alert stays visible in Active.
	resolvedKeep   = 200
	resolvedWindow = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one firing or resolved occurrence of a rule.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// ruleState tracks one configured rule between evaluations.
type ruleState struct {
	config.AlertRule
	cond     condition
	cooldown time.Duration
	severity string

	firing   *Alert
	lastFire time.Time
}

// step applies one evaluation result and returns the alert to announce, if
// the rule changed state.
func (r *ruleState) step(now time.Time, holds bool, value float64) *Alert {
	switch {
	case holds && r.firing == nil:
		if !r.lastFire.IsZero() && now.Sub(r.lastFire) <= r.cooldown {
			return nil
		}
		r.firing = &Alert{
			ID:       uuid.NewString(),
			RuleName: r.Name,
			Severity: r.severity,
			Message:  fmt.Sprintf("%s: %s (observed %.2f)", r.Name, r.Condition, value),
			Value:    value,
			FiredAt:  now,
			State:    StateFiring,
		}
		r.lastFire = now
		cp := *r.firing
		return &cp
	case !holds && r.firing != nil:
		done := *r.firing
		at := now
		done.State = StateResolved
		done.ResolvedAt = &at
		r.firing = nil
		return &done
	}
	return nil
}

// Engine evaluates alert rules after each stored batch and notifies the
// configured webhooks whenever a rule fires or resolves. Safe for concurrent use.
type Engine struct {
	targets []target
	client  *http.Client
	now     func() time.Time

	mu       sync.Mutex
	rules    []*ruleState
	resolved []Alert

	wg sync.WaitGroup
}

// New builds an Engine from the collector alert configuration. With no rules
// Evaluate does nothing.
func New(cfg config.AlertsConfig) *Engine {
	rules := make([]*ruleState, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		cond, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: rule disabled", "rule", r.Name, "err", err)
			continue
		}
		rs := &ruleState{AlertRule: r, cond: cond, cooldown: r.Cooldown, severity: r.Severity}
		if rs.cooldown <= 0 {
			rs.cooldown = defaultCooldown
		}
		if rs.severity == "" {
			rs.severity = defaultSeverity
		}
		rules = append(rules, rs)
	}
	return &Engine{
		targets: resolveTargets(cfg.Webhooks),
		client:  &http.Client{Timeout: deliveryTimeout},
		now:     time.Now,
		rules:   rules,
	}
}

// Evaluate runs every rule against obs. State changes are logged and sent to
// the webhooks in the background.
func (e *Engine) Evaluate(obs Observation) {
	if len(e.rules) == 0 {
		return
	}

	var changed []*Alert
	e.mu.Lock()
	now := e.now()
	for _, r := range e.rules {
		holds, value := r.cond.eval(obs)
		a := r.step(now, holds, value)
		if a == nil {
			continue
		}
		if a.State == StateResolved {
			e.resolved = append(e.resolved, *a)
			if n := len(e.resolved); n > resolvedKeep {
				e.resolved = e.resolved[n-resolvedKeep:]
			}
		}
		changed = append(changed, a)
	}
	e.mu.Unlock()

	for _, a := range changed {
		if a.State == StateFiring {
			slog.Warn("alerts: rule fired", "rule", a.RuleName, "severity", a.Severity, "value", a.Value)
		} else {
			slog.Info("alerts: rule resolved", "rule", a.RuleName)
		}
		e.dispatch(a)
	}
}

// Active returns the firing alerts and those resolved within the last hour,
// newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*Alert
	for _, r := range e.rules {
		if r.firing != nil {
			cp := *r.firing
			out = append(out, &cp)
		}
	}
	cutoff := e.now().Add(-resolvedWindow)
	for i := range e.resolved {
		if a := e.resolved[i]; a.ResolvedAt.After(cutoff) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until queued webhook deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) dispatch(a *Alert) {
	if len(e.targets) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.notify(a)
	}()
}
