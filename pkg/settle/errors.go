package settle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/bundlesettle/pkg/hook"
	"github.com/uhyunpark/bundlesettle/pkg/ledger"
	"github.com/uhyunpark/bundlesettle/pkg/metrics"
	"github.com/uhyunpark/bundlesettle/pkg/reserve"
	"github.com/uhyunpark/bundlesettle/pkg/storage"
	"github.com/uhyunpark/bundlesettle/pkg/token"
	"github.com/uhyunpark/bundlesettle/pkg/venue"
)

var (
	ErrMalformedBundle = errors.New("malformed bundle")
	ErrReentrantCall   = errors.New("settle: settlement entered from inside a hook")
)

// Phase names the stage a bundle was in when it aborted.
type Phase string

const (
	PhaseDecode Phase = "decode"
	PhaseTake   Phase = "take"
	PhaseOrder  Phase = "order"
	PhaseReward Phase = "reward"
	PhaseSettle Phase = "settle"
	PhaseCommit Phase = "commit"
)

// AbortError is the single error a bundle initiator receives. Order is -1
// when the failure is not tied to an order or reward.
type AbortError struct {
	Phase Phase
	Order int
	Asset common.Address
	Err   error
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("bundle aborted in %s phase", e.Phase)
	if e.Order >= 0 {
		msg += fmt.Sprintf(" (item %d)", e.Order)
	}
	if e.Asset != (common.Address{}) {
		msg += fmt.Sprintf(" (asset %s)", e.Asset.Hex())
	}
	return msg + ": " + e.Err.Error()
}

func (e *AbortError) Unwrap() error { return e.Err }

// Reason classifies err for the aborted-bundles metric.
func Reason(err error) string {
	switch {
	case errors.Is(err, hook.ErrMalformedHookRecord):
		return metrics.ReasonMalformedHookRecord
	case errors.Is(err, hook.ErrInvalidHookReturn):
		return metrics.ReasonInvalidHookReturn
	case errors.Is(err, ErrMalformedBundle):
		return metrics.ReasonMalformedBundle
	case errors.Is(err, ledger.ErrBundleChangeNetNegative):
		return metrics.ReasonNetNegative
	case errors.Is(err, reserve.ErrReserveUnderflow):
		return metrics.ReasonReserveUnderflow
	case errors.Is(err, venue.ErrInsufficientLiquidity):
		return metrics.ReasonVenue
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		return metrics.ReasonToken
	case errors.Is(err, storage.ErrTxClosed), errors.Is(err, storage.ErrOverflow):
		return metrics.ReasonStorage
	default:
		return metrics.ReasonOther
	}
}
