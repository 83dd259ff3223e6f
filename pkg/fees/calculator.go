package fees

import (
	"errors"
	"math/bits"
	"strconv"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/roles"
)

// MaxFeeBps caps any per-operation fee rate at 50%
const MaxFeeBps uint64 = 5000

// bpsDenominator is the basis-point scale
const bpsDenominator uint64 = 10000

var (
	// ErrExcessiveFeeSetting indicates a rate above MaxFeeBps
	ErrExcessiveFeeSetting = errors.New("fee rate exceeds maximum")

	// ErrUnknownOperation indicates an operation kind without a configured rate
	ErrUnknownOperation = errors.New("unknown operation kind")
)

// OperationKind identifies a value-moving operation subject to fees
type OperationKind string

const (
	OpInvest        OperationKind = "invest"
	OpDivest        OperationKind = "divest"
	OpEmergencyExit OperationKind = "emergency_exit"
)

// Calculator computes fees from per-operation basis-point rates
type Calculator struct {
	rates  map[OperationKind]uint64
	roles  *roles.Registry
	events *events.Recorder
	mutex  sync.RWMutex
}

// NewCalculator creates a fee calculator with the given initial rates
func NewCalculator(rates map[OperationKind]uint64, registry *roles.Registry, recorder *events.Recorder) (*Calculator, error) {
	for kind, bps := range rates {
		if bps > MaxFeeBps {
			return nil, pkgerrors.Wrapf(ErrExcessiveFeeSetting, "rate for %s", kind)
		}
	}
	copied := make(map[OperationKind]uint64, len(rates))
	for kind, bps := range rates {
		copied[kind] = bps
	}
	return &Calculator{
		rates:  copied,
		roles:  registry,
		events: recorder,
	}, nil
}

// Fee returns amount * rate[kind] / 10000, truncating toward zero. The
// product runs through a 128-bit intermediate, so amounts near the uint64
// maximum cannot wrap; with rates capped at MaxFeeBps the quotient always
// fits.
func (c *Calculator) Fee(amount uint64, kind OperationKind) (uint64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	rate, exists := c.rates[kind]
	if !exists {
		return 0, ErrUnknownOperation
	}
	return mulDivBps(amount, rate), nil
}

// mulDivBps returns x*y/10000 with a 128-bit intermediate
func mulDivBps(x, y uint64) uint64 {
	hi, lo := bits.Mul64(x, y)
	q, _ := bits.Div64(hi, lo, bpsDenominator)
	return q
}

// Rate returns the configured rate for an operation kind
func (c *Calculator) Rate(kind OperationKind) (uint64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	rate, exists := c.rates[kind]
	if !exists {
		return 0, ErrUnknownOperation
	}
	return rate, nil
}

// SetRate updates the rate for an operation kind. Admin-gated; rates above
// MaxFeeBps are rejected and the previous rate stays in effect.
func (c *Calculator) SetRate(kind OperationKind, bps uint64, caller string) error {
	if err := c.roles.Require(roles.RoleAdmin, caller); err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return ErrExcessiveFeeSetting
	}

	c.mutex.Lock()
	c.rates[kind] = bps
	c.mutex.Unlock()

	c.events.Emit(events.TypeFeeRateUpdated, map[string]string{
		"kind": string(kind),
		"bps":  strconv.FormatUint(bps, 10),
	})
	return nil
}
