// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts session manager outcomes.
type Metrics struct {
	Logins       *prometheus.CounterVec
	AutoLogins   *prometheus.CounterVec
	Logouts      *prometheus.CounterVec
	HashUpgrades *prometheus.CounterVec
}

// NewMetrics creates and registers session manager metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_logins_total",
				Help: "Total number of login attempts by method and result",
			},
			[]string{"method", "result"},
		),
		AutoLogins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_autologins_total",
				Help: "Total number of remember-token auto-login attempts by result",
			},
			[]string{"result"},
		),
		Logouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_logouts_total",
				Help: "Total number of logouts by scope",
			},
			[]string{"scope"},
		),
		HashUpgrades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_hash_upgrades_total",
				Help: "Total number of password hash upgrades by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.Logins, m.AutoLogins, m.Logouts, m.HashUpgrades)
	return m
}

// The helpers below tolerate a nil receiver so metrics stay optional.

func (m *Metrics) login(method, result string) {
	if m != nil {
		m.Logins.WithLabelValues(method, result).Inc()
	}
}

func (m *Metrics) autoLogin(result string) {
	if m != nil {
		m.AutoLogins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) logout(scope string) {
	if m != nil {
		m.Logouts.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) hashUpgrade(result string) {
	if m != nil {
		m.HashUpgrades.WithLabelValues(result).Inc()
	}
}
