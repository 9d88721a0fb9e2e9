package goCustodyAuth

import (
	"time"

	"github.com/MrEthical07/goCustodyAuth/internal/audit"
	"github.com/MrEthical07/goCustodyAuth/internal/rate"
	"github.com/MrEthical07/goCustodyAuth/jwt"
	"github.com/MrEthical07/goCustodyAuth/password"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
	"github.com/MrEthical07/goCustodyAuth/totp"
	"github.com/rs/zerolog"
)

// Engine runs the login flows. It is safe for concurrent use and immutable
// after Build.
type Engine struct {
	config       Config
	userProvider UserProvider
	devices      DeviceCredentialStore
	challenges   LoginChallengeStore
	twoFactor    TwoFactorStore
	broker       TokenBroker
	limiter      *rate.Limiter
	passwords    *password.Checker
	codec        *secretcodec.Codec
	totp         *totp.Manager
	jwtManager   *jwt.Manager
	audit        *audit.Dispatcher
	metrics      *Metrics
	log          zerolog.Logger
	now          func() time.Time
}

// Close stops the audit dispatcher after draining queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.userProvider != nil && e.jwtManager != nil
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}
