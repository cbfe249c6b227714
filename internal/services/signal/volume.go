package signal

import (
	"fmt"

	"RLSignal/internal/domain/models"
)

type volumeBand struct {
	floor    float64
	modifier float64
	label    string
}

// Bands are ordered high to low; each floor is inclusive.
var volumeBands = []volumeBand{
	{2.0, 1.25, "High volume confirmation"},
	{1.5, 1.15, "Above average volume"},
	{0.8, 1.0, "Normal volume"},
	{0.5, 0.85, "Below average volume"},
}

const (
	suspiciousVolumeModifier = 0.7
	suspiciousVolumeLabel    = "Very low volume - suspicious"
)

// ScoreVolume maps the volume ratio onto a confidence modifier.
func ScoreVolume(v models.VolumeSnapshot) (float64, string) {
	ratio := v.VolumeRatio
	for _, b := range volumeBands {
		if ratio >= b.floor {
			return b.modifier, fmt.Sprintf("%s (%.1fx avg)", b.label, ratio)
		}
	}
	return suspiciousVolumeModifier, fmt.Sprintf("%s (%.1fx avg)", suspiciousVolumeLabel, ratio)
}
