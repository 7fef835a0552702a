package kairosauth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/internal"
	"github.com/MrEthical07/kairosauth/internal/audit"
	"github.com/MrEthical07/kairosauth/internal/limiters"
	"github.com/MrEthical07/kairosauth/internal/rate"
	"github.com/MrEthical07/kairosauth/internal/stores"
	"github.com/MrEthical07/kairosauth/jwt"
	"github.com/MrEthical07/kairosauth/notify"
	"github.com/MrEthical07/kairosauth/password"
	"github.com/MrEthical07/kairosauth/session"
	"github.com/MrEthical07/kairosauth/token"
	"github.com/MrEthical07/kairosauth/totp"
)

// Engine runs the login state machine and its side flows. It is safe for
// concurrent use once built.
type Engine struct {
	config       Config
	logger       *zap.Logger
	credentials  credential.Store
	tokens       *token.Issuer
	pending      *stores.PendingTwoFactorStore
	totpSteps    *stores.TOTPStepStore
	sessions     *session.Store
	limiter      *rate.Limiter
	linkLimiter  *limiters.LinkRequestLimiter
	audit        *audit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	policy       *password.Policy
	totp         *totp.TOTP
	jwtManager   *jwt.Manager
	notifier     notify.Notifier
	now          func() time.Time
	newID        func() (internal.SessionID, error)
	dummyHash    string
}

// Close flushes buffered audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks Redis reachability.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	_, err := e.sessions.Ping(ctx)
	return err
}

// PurgeExpiredTokens removes verification and recovery tokens that expired
// more than Tokens.PurgeGrace ago.
func (e *Engine) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	return e.tokens.PurgeExpired(ctx, e.config.Tokens.PurgeGrace)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) ready() bool {
	return e != nil && e.credentials != nil && e.passwordHash != nil && e.pending != nil && e.sessions != nil
}
