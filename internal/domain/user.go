package domain

import "time"

// User is a wallet-keyed account with a play-money balance.
type User struct {
	Wallet    string
	Balance   float64
	CreatedAt time.Time
	LastSeen  time.Time
}

// Balance is the API view of an account, flagging first contact so
// clients can show onboarding for freshly provisioned wallets.
type Balance struct {
	Wallet    string  `json:"wallet"`
	Balance   float64 `json:"balance"`
	IsNewUser bool    `json:"is_new_user"`
}
