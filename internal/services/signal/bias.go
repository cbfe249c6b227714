package signal

import (
	"fmt"
	"math"
	"strings"

	"RLSignal/internal/domain/models"
)

const (
	bosConfirmBonus  = 0.15
	bosConflictCost  = 0.20
	obProximityPct   = 0.02
	obStrengthScale  = 5.0
	obMaxBonus       = 0.2
	fvgAdjust        = 0.10
	oteBonus         = 0.15
	primeSessionGain = 0.10
	asianSessionGain = 0.05

	noSMCSignals = "No SMC signals"
)

// ScoreStructuralBias scores how well the structural snapshot supports the
// proposed action. The modifier starts at 1.0 and accumulates additive
// adjustments; the rationale lists every rule that fired in evaluation order.
// action must be LONG or SHORT.
func ScoreStructuralBias(smc models.StructuralSnapshot, price float64, action models.Action) (float64, string) {
	modifier := 1.0
	reasons := make([]string, 0, 5)

	// break of structure
	switch {
	case smc.BOSDirection == models.DirectionBullish && action == models.ActionLong:
		modifier += bosConfirmBonus
		reasons = append(reasons, "BOS confirms bullish bias")
	case smc.BOSDirection == models.DirectionBearish && action == models.ActionShort:
		modifier += bosConfirmBonus
		reasons = append(reasons, "BOS confirms bearish bias")
	case smc.BOSDirection != models.DirectionNone && action.ZoneDirection() != models.DirectionNone:
		modifier -= bosConflictCost
		reasons = append(reasons, fmt.Sprintf("BOS conflicts (market %s)", smc.BOSDirection))
	}

	// order block proximity
	zoneDir := action.ZoneDirection()
	if ob, ok := NearestOrderBlock(smc.OrderBlocks, price, zoneDir); ok && price > 0 {
		if math.Abs(price-ob.Mid())/price < obProximityPct {
			modifier += math.Min(ob.Strength*obStrengthScale, obMaxBonus)
			reasons = append(reasons, fmt.Sprintf("Near %s OB (strength: %.1f%%)", zoneDir, ob.Strength*100))
		}
	}

	// fair value gap occupancy
	if gap, ok := GapContaining(smc.FairValueGaps, price); ok {
		if gap.Type == zoneDir {
			modifier += fvgAdjust
			reasons = append(reasons, fmt.Sprintf("In %s FVG", gap.Type))
		} else {
			modifier -= fvgAdjust
			reasons = append(reasons, fmt.Sprintf("In opposing FVG (%s)", gap.Type))
		}
	}

	// optimal trade entry
	if z := smc.OTEZone; z != nil && z.Contains(price) && z.Favors(action) {
		modifier += oteBonus
		if action == models.ActionLong {
			reasons = append(reasons, "In OTE zone for long entry")
		} else {
			reasons = append(reasons, "In OTE zone for short entry")
		}
	}

	// session window
	switch smc.KillZone {
	case models.KillZoneLondon, models.KillZoneNewYork:
		modifier += primeSessionGain
		reasons = append(reasons, fmt.Sprintf("%s kill zone active", smc.KillZone))
	case models.KillZoneAsian:
		modifier += asianSessionGain
		reasons = append(reasons, "Asian session (range likely)")
	}

	if len(reasons) == 0 {
		return modifier, noSMCSignals
	}
	return modifier, strings.Join(reasons, "; ")
}
