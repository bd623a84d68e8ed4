// Package risk gates capital and concurrency. It never inspects the market.
package risk

import (
	"github.com/hanyx21/BOOM/internal/config"
)

// Manager converts the account balance and configured limits into position
// sizes and enforces the concurrency cap.
type Manager struct {
	cfg config.Risk
}

// NewManager creates a risk manager from the configured limits.
func NewManager(cfg config.Risk) *Manager {
	return &Manager{cfg: cfg}
}

// PositionSize returns the quote-currency stake for a new position: a fixed
// fraction of the current balance.
func (m *Manager) PositionSize(balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	return balance * m.cfg.MaxPercentPerTrade
}

// MaxConcurrentReached reports whether openCount has hit the concurrency cap.
func (m *Manager) MaxConcurrentReached(openCount int) bool {
	return openCount >= m.cfg.MaxConcurrentTrades
}

// MaxConcurrentTrades exposes the configured cap.
func (m *Manager) MaxConcurrentTrades() int {
	return m.cfg.MaxConcurrentTrades
}
