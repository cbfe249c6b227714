package models

import (
	"strings"
	"time"
)

// Direction tags structural evidence (zones, gaps, break of structure).
type Direction string

const (
	DirectionBullish Direction = "BULLISH"
	DirectionBearish Direction = "BEARISH"
	DirectionNone    Direction = "NONE"
)

// ParseDirection maps free text onto a Direction; anything unknown is NONE.
func ParseDirection(s string) Direction {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionBullish:
		return DirectionBullish
	case DirectionBearish:
		return DirectionBearish
	default:
		return DirectionNone
	}
}

// Action is the trade proposal emitted by the decision pipeline.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionHold  Action = "HOLD"
)

// ZoneDirection returns the zone type that supports the action
// (bullish blocks under a long, bearish blocks over a short).
func (a Action) ZoneDirection() Direction {
	switch a {
	case ActionLong:
		return DirectionBullish
	case ActionShort:
		return DirectionBearish
	default:
		return DirectionNone
	}
}

// KillZone is the session-window tag.
type KillZone string

const (
	KillZoneLondon  KillZone = "LONDON"
	KillZoneNewYork KillZone = "NEW_YORK"
	KillZoneAsian   KillZone = "ASIAN"
	KillZoneNone    KillZone = "NONE"
)

func ParseKillZone(s string) KillZone {
	switch KillZone(strings.ToUpper(strings.TrimSpace(s))) {
	case KillZoneLondon:
		return KillZoneLondon
	case KillZoneNewYork:
		return KillZoneNewYork
	case KillZoneAsian:
		return KillZoneAsian
	default:
		return KillZoneNone
	}
}

// OrderBlock is a structural support/resistance zone.
type OrderBlock struct {
	Type     Direction `json:"type"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Strength float64   `json:"strength"`
	Index    *int      `json:"index,omitempty"`
}

// Mid returns the zone midpoint.
func (b OrderBlock) Mid() float64 { return (b.High + b.Low) / 2 }

// FairValueGap is an imbalance range skipped by a sharp move.
type FairValueGap struct {
	Type Direction `json:"type"`
	High float64   `json:"high"`
	Low  float64   `json:"low"`
	Size float64   `json:"size"`
}

// Contains reports whether price lies in [Low, High], both bounds inclusive.
func (g FairValueGap) Contains(price float64) bool {
	return g.Low <= price && price <= g.High
}

// OTEZone is the optimal-entry retracement band. Direction is free text
// that only has to contain BULLISH or BEARISH.
type OTEZone struct {
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Direction string  `json:"direction"`
}

func (z OTEZone) Contains(price float64) bool {
	return z.Low <= price && price <= z.High
}

// Favors reports whether the zone's direction tag supports the action.
func (z OTEZone) Favors(a Action) bool {
	d := strings.ToUpper(z.Direction)
	switch a {
	case ActionLong:
		return strings.Contains(d, string(DirectionBullish))
	case ActionShort:
		return strings.Contains(d, string(DirectionBearish))
	default:
		return false
	}
}

// StructuralSnapshot is the normalized, read-only market-structure input
// of one prediction request.
type StructuralSnapshot struct {
	OrderBlocks   []OrderBlock
	FairValueGaps []FairValueGap
	BOSDirection  Direction
	OTEZone       *OTEZone
	KillZone      KillZone
	Bias          string
}

// VolumeSnapshot is the normalized volume input of one prediction request.
type VolumeSnapshot struct {
	VolumeRatio   float64
	AvgVolume     float64
	CurrentVolume float64
}

// TradeLevels are the concrete entry/stop/target levels of a decision.
type TradeLevels struct {
	Entry           float64 `json:"entry"`
	StopLoss        float64 `json:"stopLoss"`
	TakeProfit      float64 `json:"takeProfit"`
	RiskRewardRatio float64 `json:"riskRewardRatio"`
}

// Decision is the fused output of one prediction call.
type Decision struct {
	Symbol         string
	Action         Action
	Confidence     float64
	ExpectedReturn float64
	ModelVersion   string
	Source         string // predictor that produced the base signal
	Reasoning      string
	SMCAnalysis    string
	VolumeAnalysis string
	Levels         *TradeLevels
	Timestamp      time.Time
}

// Candle represents an OHLCV record used for simulation and training.
type Candle struct {
	Bucket time.Time `json:"t"`
	Symbol string    `json:"symbol,omitempty"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ActionFromIndex maps the simulation action alphabet onto trade actions.
func ActionFromIndex(i int) Action {
	switch i {
	case 1:
		return ActionLong
	case 2:
		return ActionShort
	default:
		return ActionHold
	}
}

// BaseSignal is the directional proposal of a predictor before structural
// and volume evidence is applied.
type BaseSignal struct {
	Action     Action
	Confidence float64
}
