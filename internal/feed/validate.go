package feed

import (
	"errors"
	"fmt"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// Sentinel errors returned by boundary validation. All of them wrap
// market.ErrProtocol so feeds can classify them as cycle failures.
var (
	ErrPriceNotPositive = errors.New("price must be positive")
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrUnknownSide      = errors.New("unknown side")
)

// ValidateDelta runs the boundary checks on a decoded incremental update.
// It fails fast: the first failing check rejects the diff.
func ValidateDelta(d market.BookDelta) error {
	if d.Side != market.SideBid && d.Side != market.SideAsk {
		return fmt.Errorf("%w: %w: %d", market.ErrProtocol, ErrUnknownSide, d.Side)
	}
	if d.Price <= 0 {
		return fmt.Errorf("%w: %w: %f", market.ErrProtocol, ErrPriceNotPositive, d.Price)
	}
	if d.Amount < 0 {
		return fmt.Errorf("%w: %w: %f", market.ErrProtocol, ErrNegativeAmount, d.Amount)
	}
	return nil
}

// ValidateLevels checks every price level of a decoded snapshot side.
func ValidateLevels(levels []market.PriceLevel) error {
	for _, l := range levels {
		if l.Price <= 0 {
			return fmt.Errorf("%w: %w: %f", market.ErrProtocol, ErrPriceNotPositive, l.Price)
		}
		if l.Amount < 0 {
			return fmt.Errorf("%w: %w: %f", market.ErrProtocol, ErrNegativeAmount, l.Amount)
		}
	}
	return nil
}
