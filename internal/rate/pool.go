package rate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/holiman/uint256"
)

// ContractCaller is the subset of ethclient.Client used to read pool state.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// slot0Selector is the 4-byte selector of slot0().
var slot0Selector = crypto.Keccak256([]byte("slot0()"))[:4]

// PoolSource reads a concentrated-liquidity pool's sqrtPriceX96 and squares it
// into a Q96 rate. Scale converts the raw token1/token0 ratio into quote units
// (10^(decimals0-decimals1) for most pairs).
type PoolSource struct {
	caller ContractCaller
	pool   common.Address
	scale  fixedpoint.Q96
}

// NewPoolSource constructs a PoolSource. A zero scale means 1.
func NewPoolSource(caller ContractCaller, pool common.Address, scale fixedpoint.Q96) *PoolSource {
	if scale.IsZero() {
		scale = fixedpoint.One()
	}
	return &PoolSource{caller: caller, pool: pool, scale: scale}
}

// Observe implements Source.
func (p *PoolSource) Observe(ctx context.Context) (fixedpoint.Q96, error) {
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &p.pool, Data: slot0Selector}, nil)
	if err != nil {
		return fixedpoint.Q96{}, fmt.Errorf("pool slot0: %w", err)
	}
	if len(out) < 32 {
		return fixedpoint.Q96{}, fmt.Errorf("pool slot0: short response (%d bytes)", len(out))
	}
	sqrtPrice := new(uint256.Int).SetBytes32(out[:32])
	if sqrtPrice.IsZero() {
		return fixedpoint.Q96{}, ErrNoObservation
	}
	return SqrtPriceToRate(sqrtPrice, p.scale)
}

// SqrtPriceToRate converts a sqrtPriceX96 observation into a Q96 rate.
func SqrtPriceToRate(sqrtPriceX96 *uint256.Int, scale fixedpoint.Q96) (fixedpoint.Q96, error) {
	s := fixedpoint.FromRaw(sqrtPriceX96)
	price, err := s.Mul(s)
	if err != nil {
		return fixedpoint.Q96{}, err
	}
	return price.Mul(scale)
}
