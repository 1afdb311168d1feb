package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func newTestRegistry(cfg Config) *Registry {
	return New(cfg, prometheus.NewRegistry())
}

func TestHealth_HealthyWithNoSamples(t *testing.T) {
	r := newTestRegistry(Config{MailboxHighWaterMark: 100, ConsumerLagAlert: 1000})
	assert.Equal(t, HealthHealthy, r.Health())
}

func TestHealth_UnhealthyWhenRollingLagExceedsAlertThreshold(t *testing.T) {
	r := newTestRegistry(Config{ConsumerLagAlert: 1000})
	for i := 0; i < 5; i++ {
		r.RecordLag(5000)
	}
	assert.Equal(t, HealthUnhealthy, r.Health())
}

func TestHealth_DegradedOnlyAfterSustainedMailboxBreach(t *testing.T) {
	r := newTestRegistry(Config{MailboxHighWaterMark: 10})
	r.SetMailboxDepth(50)
	assert.Equal(t, HealthHealthy, r.Health(), "must not degrade immediately on first breach")

	r.mu.Lock()
	r.mailboxOverSince = time.Now().Add(-31 * time.Second)
	r.mu.Unlock()

	assert.Equal(t, HealthDegraded, r.Health())
}

func TestSetMailboxDepth_ResetsTimerOnceBelowHighWaterMark(t *testing.T) {
	r := newTestRegistry(Config{MailboxHighWaterMark: 10})
	r.SetMailboxDepth(50)
	r.SetMailboxDepth(1)

	r.mu.Lock()
	over := r.mailboxOverSince.IsZero()
	r.mu.Unlock()
	assert.True(t, over)
}
