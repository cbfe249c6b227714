package models

import "strings"

// Requests and responses for the decision HTTP endpoints. Defined in domain
// so the handler, usecases and Kafka publisher share one wire shape.

// OrderBlockInput is the wire form of an order block.
type OrderBlockInput struct {
	Type     string  `json:"type"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Strength float64 `json:"strength"`
	Index    *int    `json:"index,omitempty"`
}

// FairValueGapInput is the wire form of a fair value gap.
type FairValueGapInput struct {
	Type string  `json:"type"`
	High float64 `json:"high"`
	Low  float64 `json:"low"`
	Size float64 `json:"size"`
}

// SMCFeatures carries the structural context attached to a predict call.
type SMCFeatures struct {
	OrderBlocks   []OrderBlockInput   `json:"orderBlocks"`
	FairValueGaps []FairValueGapInput `json:"fairValueGaps"`
	BOSDirection  string              `json:"bosDirection" default:"NONE"`
	OTEZone       *OTEZone            `json:"oteZone,omitempty"`
	KillZone      string              `json:"killZone" default:"NONE"`
	SMCBias       string              `json:"smcBias" default:"NONE"`
}

// Snapshot normalizes the wire tags into a StructuralSnapshot. Unknown
// zone types become DirectionNone and negative strengths become zero, so
// such zones never match a direction and add no bonus.
func (f SMCFeatures) Snapshot() StructuralSnapshot {
	s := StructuralSnapshot{
		OrderBlocks:   make([]OrderBlock, 0, len(f.OrderBlocks)),
		FairValueGaps: make([]FairValueGap, 0, len(f.FairValueGaps)),
		BOSDirection:  ParseDirection(f.BOSDirection),
		KillZone:      ParseKillZone(f.KillZone),
		Bias:          strings.ToUpper(strings.TrimSpace(f.SMCBias)),
	}
	if s.Bias == "" {
		s.Bias = string(DirectionNone)
	}
	for _, ob := range f.OrderBlocks {
		s.OrderBlocks = append(s.OrderBlocks, OrderBlock{
			Type:     ParseDirection(ob.Type),
			High:     ob.High,
			Low:      ob.Low,
			Strength: max(ob.Strength, 0),
			Index:    ob.Index,
		})
	}
	for _, g := range f.FairValueGaps {
		s.FairValueGaps = append(s.FairValueGaps, FairValueGap{
			Type: ParseDirection(g.Type),
			High: g.High,
			Low:  g.Low,
			Size: g.Size,
		})
	}
	if f.OTEZone != nil {
		z := *f.OTEZone
		s.OTEZone = &z
	}
	return s
}

// VolumeFeatures carries the volume context attached to a predict call.
type VolumeFeatures struct {
	VolumeRatio   *float64 `json:"volumeRatio,omitempty"`
	AvgVolume     float64  `json:"avgVolume"`
	CurrentVolume float64  `json:"currentVolume"`
}

// Snapshot applies the 1.0 default for a missing ratio and clamps
// negative ratios to zero.
func (f VolumeFeatures) Snapshot() VolumeSnapshot {
	ratio := 1.0
	if f.VolumeRatio != nil {
		ratio = *f.VolumeRatio
	}
	if ratio < 0 {
		ratio = 0
	}
	return VolumeSnapshot{
		VolumeRatio:   ratio,
		AvgVolume:     f.AvgVolume,
		CurrentVolume: f.CurrentVolume,
	}
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Symbol       string          `json:"symbol" default:"UNKNOWN"`
	Features     []float64       `json:"features" validate:"required,min=1"`
	CurrentPrice *float64        `json:"currentPrice,omitempty"`
	SMC          *SMCFeatures    `json:"smc,omitempty"`
	Volume       *VolumeFeatures `json:"volume,omitempty"`
	Methodology  string          `json:"methodology" default:"SMC"`
}

// Price returns currentPrice when given and non-zero, otherwise the first
// feature.
func (r PredictRequest) Price() float64 {
	if r.CurrentPrice != nil && *r.CurrentPrice != 0 {
		return *r.CurrentPrice
	}
	if len(r.Features) > 0 {
		return r.Features[0]
	}
	return 0
}

// ATR returns the seventh feature when present, otherwise zero so the
// level derivation falls back to its default.
func (r PredictRequest) ATR() float64 {
	if len(r.Features) > 6 {
		return r.Features[6]
	}
	return 0
}

// PredictResponse is the body returned by POST /predict.
type PredictResponse struct {
	Action          Action   `json:"action"`
	Confidence      float64  `json:"confidence"`
	ExpectedReturn  float64  `json:"expectedReturn"`
	ModelVersion    string   `json:"modelVersion"`
	Reasoning       string   `json:"reasoning,omitempty"`
	SMCAnalysis     string   `json:"smcAnalysis,omitempty"`
	VolumeAnalysis  string   `json:"volumeAnalysis,omitempty"`
	Entry           *float64 `json:"entry,omitempty"`
	StopLoss        *float64 `json:"stopLoss,omitempty"`
	TakeProfit      *float64 `json:"takeProfit,omitempty"`
	RiskRewardRatio *float64 `json:"riskRewardRatio,omitempty"`
}

// NewPredictResponse flattens a Decision into the response shape.
func NewPredictResponse(d Decision) PredictResponse {
	resp := PredictResponse{
		Action:         d.Action,
		Confidence:     d.Confidence,
		ExpectedReturn: d.ExpectedReturn,
		ModelVersion:   d.ModelVersion,
		Reasoning:      d.Reasoning,
		SMCAnalysis:    d.SMCAnalysis,
		VolumeAnalysis: d.VolumeAnalysis,
	}
	if d.Levels != nil {
		l := *d.Levels
		resp.Entry = &l.Entry
		resp.StopLoss = &l.StopLoss
		resp.TakeProfit = &l.TakeProfit
		resp.RiskRewardRatio = &l.RiskRewardRatio
	}
	return resp
}

// DecisionEvent is the record published to Kafka and logged to ClickHouse.
type DecisionEvent struct {
	Symbol    string `json:"symbol"`
	Source    string `json:"source"`
	Timestamp int64  `json:"ts"`
	PredictResponse
}

func NewDecisionEvent(d Decision) DecisionEvent {
	return DecisionEvent{
		Symbol:          d.Symbol,
		Source:          d.Source,
		Timestamp:       d.Timestamp.UnixMilli(),
		PredictResponse: NewPredictResponse(d),
	}
}

// CandleInput is the wire form of a candle inside a simulate request.
type CandleInput struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close" validate:"gt=0"`
	Volume float64 `json:"volume" validate:"gte=0"`
}

// SimulateRequest is the body of POST /simulate. With the replay policy
// Actions are stepped in order and an empty list runs a hold-only
// episode; the ppo policy lets the loaded model act on every step.
type SimulateRequest struct {
	Candles         []CandleInput `json:"candles" validate:"required,min=3,dive"`
	Actions         []int         `json:"actions" validate:"dive,gte=0,lte=2"`
	Policy          string        `json:"policy" default:"replay" validate:"oneof=replay ppo"`
	InitialBalance  float64       `json:"initialBalance" default:"10000" validate:"gt=0"`
	TransactionCost float64       `json:"transactionCost" default:"0.001" validate:"gte=0"`
	PositionSize    float64       `json:"positionSize" default:"1" validate:"gt=0"`
	Lookback        int           `json:"lookback" default:"20" validate:"gte=1"`
	Seed            *int64        `json:"seed,omitempty"`
}

// SimulateStep is one row of a simulate response trace.
type SimulateStep struct {
	Step        int       `json:"step"`
	Action      int       `json:"action"`
	Reward      float64   `json:"reward"`
	Terminated  bool      `json:"terminated"`
	Info        StepInfo  `json:"info"`
	Observation []float64 `json:"observation"`
}

// StepInfo is the per-step accounting emitted by the environment.
type StepInfo struct {
	TotalPnL float64 `json:"total_pnl"`
	Position int     `json:"position"`
	Trades   int     `json:"trades"`
	Balance  float64 `json:"balance"`
}

// SimulateResponse summarizes a replayed episode.
type SimulateResponse struct {
	Steps       []SimulateStep `json:"steps"`
	TotalReward float64        `json:"totalReward"`
	Final       StepInfo       `json:"final"`
}
