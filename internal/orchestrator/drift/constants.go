package drift

const (
	// MaxFrameDistance is the perceptual-hash distance under which a frame
	// counts as unchanged since the last comparison.
	MaxFrameDistance = 2

	// ForceCompareEvery bounds how many unchanged frames are skipped in a row.
	ForceCompareEvery = 10
)
