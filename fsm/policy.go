package fsm

import "time"

// LockPolicy controls whether dogpile-prevention locking is active for an
// endpoint, and at what per-key concurrency.
type LockPolicy struct {
	Enabled     bool
	Concurrency int
}

// DisabledLocks is the zero-value LockPolicy: locking disabled.
func DisabledLocks() LockPolicy { return LockPolicy{} }

// EnabledLocks builds a LockPolicy with the given per-key concurrency.
func EnabledLocks(concurrency int) LockPolicy {
	return LockPolicy{Enabled: true, Concurrency: concurrency}
}

// PolicyConfig is the per-endpoint caching policy.
type PolicyConfig struct {
	Enabled   bool
	TTL       time.Duration
	StaleTTL  time.Duration
	Locks     LockPolicy
}

// Disabled builds a PolicyConfig where the FSM always bypasses to upstream.
func Disabled() PolicyConfig { return PolicyConfig{} }

// Enabled builds an active PolicyConfig.
func Enabled(ttl, staleTTL time.Duration, locks LockPolicy) PolicyConfig {
	return PolicyConfig{Enabled: true, TTL: ttl, StaleTTL: staleTTL, Locks: locks}
}
