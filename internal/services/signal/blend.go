package signal

import (
	"fmt"

	"RLSignal/internal/domain/models"
)

const (
	MinConfidence = 0.2
	MaxConfidence = 0.95

	lowVolumeRatio        = 0.5
	weakBaseConfidence    = 0.55
	reasonQuietSession    = "Outside kill zone with very low volume"
	reasonWeakVsStructure = "Weak signal against market structure"
)

// BlendConfidence multiplies the base confidence by both modifiers, clamps
// the product to [MinConfidence, MaxConfidence] and rounds to 4 places.
func BlendConfidence(base, biasModifier, volumeModifier float64, biasReason, volumeReason string) (float64, string) {
	raw := base * biasModifier * volumeModifier
	conf := Round(Clamp(raw, MinConfidence, MaxConfidence), 4)
	return conf, fmt.Sprintf("SMC: %s | Volume: %s", biasReason, volumeReason)
}

// ShouldHold reports whether the structural and volume context vetoes the
// trade. The first matching rule wins and its description is returned.
func ShouldHold(smc models.StructuralSnapshot, vol models.VolumeSnapshot, base float64) (bool, string) {
	if smc.KillZone == models.KillZoneNone && vol.VolumeRatio < lowVolumeRatio {
		return true, reasonQuietSession
	}
	if base < weakBaseConfidence && smc.BOSDirection != models.DirectionNone {
		return true, reasonWeakVsStructure
	}
	return false, ""
}
