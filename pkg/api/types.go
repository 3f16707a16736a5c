package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/bundlesettle/pkg/storage"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// SubmitBundleRequest is the payload for POST /api/v1/bundles and
// POST /api/v1/bundles/decode
type SubmitBundleRequest struct {
	Bundle hexutil.Bytes `json:"bundle"` // encoded bundle, 0x-prefixed hex
}

// ==============================
// REST Response Types
// ==============================

// ReserveInfo is one (owner, asset) reserve balance
type ReserveInfo struct {
	Owner   common.Address `json:"owner"`
	Asset   common.Address `json:"asset"`
	Balance string         `json:"balance"` // decimal
}

// FeeInfo is the saved-fee balance of an asset
type FeeInfo struct {
	Asset common.Address `json:"asset"`
	Saved string         `json:"saved"` // decimal
}

// AbortResponse is returned when a submitted bundle aborts
type AbortResponse struct {
	Error      string      `json:"error"`
	Message    string      `json:"message"`
	BundleHash common.Hash `json:"bundleHash"`
	Phase      string      `json:"phase,omitempty"`
	Item       *int        `json:"item,omitempty"`
	Asset      string      `json:"asset,omitempty"`
	Reason     string      `json:"reason"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["bundles"]
}

// BundleUpdate is broadcast on the "bundles" channel for every commit
type BundleUpdate struct {
	Type    string           `json:"type"` // "bundle"
	Receipt *storage.Receipt `json:"receipt"`
}
