package settle

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Asset is one entry of a bundle's asset array. Take is withdrawn from the
// venue before any order runs; Save and Settle are paid out of the net
// delta after every order and reward.
type Asset struct {
	Addr   common.Address `json:"addr"`
	Save   *uint256.Int   `json:"save"`
	Take   *uint256.Int   `json:"take"`
	Settle *uint256.Int   `json:"settle"`
}

// Order is a pre-matched trade. AssetIn and AssetOut index the asset array.
// From pays QuantityIn and Recipient (From when nil) receives QuantityOut.
type Order struct {
	UseInternal bool            `json:"useInternal"`
	AssetIn     uint16          `json:"assetIn"`
	AssetOut    uint16          `json:"assetOut"`
	QuantityIn  *uint256.Int    `json:"quantityIn"`
	QuantityOut *uint256.Int    `json:"quantityOut"`
	From        common.Address  `json:"from"`
	Recipient   *common.Address `json:"recipient,omitempty"`
	Hook        *Hook           `json:"hook,omitempty"`

	// Hash is filled in by Decode.
	Hash common.Hash `json:"hash,omitempty"`
}

type Hook struct {
	Callee  common.Address `json:"callee"`
	Payload hexutil.Bytes  `json:"payload"`
}

type Reward struct {
	AssetIndex uint16         `json:"assetIndex"`
	Recipient  common.Address `json:"recipient"`
	Amount     *uint256.Int   `json:"amount"`
}

type Bundle struct {
	Assets  []Asset  `json:"assets"`
	Orders  []Order  `json:"orders"`
	Rewards []Reward `json:"rewards"`
}

func (o *Order) payee() common.Address {
	if o.Recipient != nil {
		return *o.Recipient
	}
	return o.From
}
