package wallets

import (
	"time"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/walletmetrics"
)

// WarmRequest lists wallets to refresh
type WarmRequest struct {
	Wallets []string `json:"wallets" binding:"required"`
}

// WarmResponse reports how many wallets were refreshed
type WarmResponse struct {
	Requested int `json:"requested"`
	Refreshed int `json:"refreshed"`
}

// TrendingResponse lists the most requested wallets
type TrendingResponse struct {
	Wallets []walletmetrics.TrendingWallet `json:"wallets"`
}

// ErrorResponse carries a client error
type ErrorResponse struct {
	Error string `json:"error"`
}

// Leaderboard is a point-in-time trending snapshot
type Leaderboard struct {
	Wallets     []walletmetrics.TrendingWallet `json:"wallets"`
	GeneratedAt time.Time                      `json:"generatedAt"`
}
