package storage

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt records a committed bundle. Amounts are decimal strings.
type Receipt struct {
	Sequence    uint64        `json:"sequence"`
	BundleHash  common.Hash   `json:"bundleHash"`
	OrderHashes []common.Hash `json:"orderHashes"`
	Assets      []AssetFlow   `json:"assets"`
	Rewards     []RewardFlow  `json:"rewards"`
	CommittedAt time.Time     `json:"committedAt"`
}

type AssetFlow struct {
	Asset  common.Address `json:"asset"`
	Save   string         `json:"save"`
	Take   string         `json:"take"`
	Settle string         `json:"settle"`
}

type RewardFlow struct {
	Asset     common.Address `json:"asset"`
	Recipient common.Address `json:"recipient"`
	Amount    string         `json:"amount"`
}
