package types

// Tier is the informational transport classification of an envelope, derived
// only from its serialized size. It never influences decoding.
type Tier string

const (
	TierLightweight Tier = "lightweight"
	TierHeavyweight Tier = "heavyweight"
)

// TierThresholdBytes is the size at and above which an envelope is heavyweight.
const TierThresholdBytes = 32 * 1024

// ClassifyTier labels a serialized envelope of the given size.
func ClassifyTier(size int) Tier {
	if size < TierThresholdBytes {
		return TierLightweight
	}
	return TierHeavyweight
}

// SizeKB reports a byte count in KiB, as shown in diagnostics.
func SizeKB(size int) float64 {
	return float64(size) / 1024
}
