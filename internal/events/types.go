package events

// StakeRecordedEvent is published for every stake that passed validation.
// NewMax is false when the amount did not beat the customer's previous
// maximum for the bet and was absorbed.
type StakeRecordedEvent struct {
	BetID      int  `json:"bet_id"`
	CustomerID int  `json:"customer_id"`
	Amount     int  `json:"amount"`
	NewMax     bool `json:"new_max"`
}

// StakeEntry is one leaderboard row.
type StakeEntry struct {
	CustomerID int `json:"customer_id"`
	Amount     int `json:"amount"`
}

// LeaderboardChangedEvent carries the rebuilt top-20, highest first.
// Version grows with every rebuild of the bet's board; handlers may see
// versions out of order and should drop older ones.
type LeaderboardChangedEvent struct {
	BetID   int          `json:"bet_id"`
	Version uint64       `json:"version"`
	Top     []StakeEntry `json:"top"`
}
