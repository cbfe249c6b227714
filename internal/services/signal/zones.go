package signal

import "RLSignal/internal/domain/models"

// NearestOrderBlock returns the closest block of the given direction on the
// supporting side of price. Bullish blocks must sit fully below price (high <
// price) and the highest one wins; bearish blocks must sit fully above price
// (low > price) and the lowest one wins. Ties keep the first block in input
// order. ok is false when nothing qualifies.
func NearestOrderBlock(blocks []models.OrderBlock, price float64, dir models.Direction) (best models.OrderBlock, ok bool) {
	for _, ob := range blocks {
		if ob.Type != dir {
			continue
		}
		switch dir {
		case models.DirectionBullish:
			if ob.High >= price {
				continue
			}
			if !ok || ob.High > best.High {
				best, ok = ob, true
			}
		case models.DirectionBearish:
			if ob.Low <= price {
				continue
			}
			if !ok || ob.Low < best.Low {
				best, ok = ob, true
			}
		}
	}
	return best, ok
}

// GapContaining returns the first gap, in input order, whose [low, high]
// range contains price.
func GapContaining(gaps []models.FairValueGap, price float64) (models.FairValueGap, bool) {
	for _, g := range gaps {
		if g.Contains(price) {
			return g, true
		}
	}
	return models.FairValueGap{}, false
}
