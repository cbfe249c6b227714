package signal

import "RLSignal/internal/domain/models"

const (
	holdOverrideConfidence = 0.6
	expectedReturnScale    = 0.15

	noSMCData    = "No SMC data"
	noVolumeData = "No volume data"
)

// Fusion is the deterministic outcome of combining a base signal with the
// structural and volume snapshots. Confidence is final apart from any
// caller-applied jitter.
type Fusion struct {
	Action         models.Action
	Confidence     float64
	ExpectedReturn float64
	Reasoning      string
	SMCAnalysis    string
	VolumeAnalysis string
	Overridden     bool
}

// Fuse scores the snapshots against the base signal, applies the hold
// override and blends the confidence. Missing snapshots degrade to a
// neutral 1.0 modifier.
func Fuse(base models.BaseSignal, price float64, smc *models.StructuralSnapshot, vol *models.VolumeSnapshot) Fusion {
	action := base.Action
	baseConf := base.Confidence

	smcMod, smcReason := 1.0, noSMCData
	if smc != nil && action != models.ActionHold {
		smcMod, smcReason = ScoreStructuralBias(*smc, price, action)
	}

	volMod, volReason := 1.0, noVolumeData
	if vol != nil {
		volMod, volReason = ScoreVolume(*vol)
	}

	overridden := false
	if smc != nil && vol != nil && action != models.ActionHold {
		if hold, reason := ShouldHold(*smc, *vol, baseConf); hold {
			action = models.ActionHold
			baseConf = holdOverrideConfidence
			smcMod, volMod = 1.0, 1.0
			smcReason = reason
			overridden = true
		}
	}

	conf, reasoning := BlendConfidence(baseConf, smcMod, volMod, smcReason, volReason)

	expected := 0.0
	if action != models.ActionHold {
		expected = (conf - 0.5) * expectedReturnScale * smcMod
	}

	return Fusion{
		Action:         action,
		Confidence:     conf,
		ExpectedReturn: expected,
		Reasoning:      reasoning,
		SMCAnalysis:    smcReason,
		VolumeAnalysis: volReason,
		Overridden:     overridden,
	}
}
