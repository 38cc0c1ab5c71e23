// Package imaging implements the pixel-level pieces of drift detection:
// perceptual fingerprints, per-region similarity scores and difference
// heatmaps.
package imaging

import (
	"encoding/json"
	"image"

	"github.com/corona10/goimagehash"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// Hashes are the three 64-bit fingerprints of one frame.
type Hashes struct {
	Average    *goimagehash.ImageHash
	Difference *goimagehash.ImageHash
	Perceptual *goimagehash.ImageHash
}

// HashDistances are Hamming distances between two fingerprints, 0..64 each.
type HashDistances struct {
	Average    int `json:"average"`
	Difference int `json:"difference"`
	Perceptual int `json:"perceptual"`
}

// Max returns the largest of the three distances.
func (d HashDistances) Max() int {
	return max(d.Average, d.Difference, d.Perceptual)
}

// Fingerprint computes average, difference and DCT perceptual hashes.
func Fingerprint(img image.Image) (Hashes, error) {
	var h Hashes
	var err error
	if h.Average, err = goimagehash.AverageHash(img); err != nil {
		return Hashes{}, apperr.Wrap(err, apperr.CodeInvalidArgument, "average hash")
	}
	if h.Difference, err = goimagehash.DifferenceHash(img); err != nil {
		return Hashes{}, apperr.Wrap(err, apperr.CodeInvalidArgument, "difference hash")
	}
	if h.Perceptual, err = goimagehash.PerceptionHash(img); err != nil {
		return Hashes{}, apperr.Wrap(err, apperr.CodeInvalidArgument, "perceptual hash")
	}
	return h, nil
}

// Valid reports whether all three hashes are present.
func (h Hashes) Valid() bool {
	return h.Average != nil && h.Difference != nil && h.Perceptual != nil
}

// Distances compares h against other hash by hash.
func (h Hashes) Distances(other Hashes) (HashDistances, error) {
	if !h.Valid() || !other.Valid() {
		return HashDistances{}, apperr.New(apperr.CodeInvalidArgument, "incomplete fingerprint")
	}
	var d HashDistances
	var err error
	if d.Average, err = h.Average.Distance(other.Average); err != nil {
		return HashDistances{}, apperr.Wrap(err, apperr.CodeInternal, "average distance")
	}
	if d.Difference, err = h.Difference.Distance(other.Difference); err != nil {
		return HashDistances{}, apperr.Wrap(err, apperr.CodeInternal, "difference distance")
	}
	if d.Perceptual, err = h.Perceptual.Distance(other.Perceptual); err != nil {
		return HashDistances{}, apperr.Wrap(err, apperr.CodeInternal, "perceptual distance")
	}
	return d, nil
}

type hashStrings struct {
	Average    string `json:"average"`
	Difference string `json:"difference"`
	Perceptual string `json:"perceptual"`
}

// MarshalJSON writes each hash in goimagehash's "kind:hex" form.
func (h Hashes) MarshalJSON() ([]byte, error) {
	if !h.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(hashStrings{
		Average:    h.Average.ToString(),
		Difference: h.Difference.ToString(),
		Perceptual: h.Perceptual.ToString(),
	})
}

func (h *Hashes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*h = Hashes{}
		return nil
	}
	var s hashStrings
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHashes(s.Average, s.Difference, s.Perceptual)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHashes rebuilds a fingerprint from its string form.
func ParseHashes(average, difference, perceptual string) (Hashes, error) {
	var h Hashes
	var err error
	if h.Average, err = goimagehash.ImageHashFromString(average); err != nil {
		return Hashes{}, apperr.Wrap(err, apperr.CodeInvalidPayload, "parse average hash")
	}
	if h.Difference, err = goimagehash.ImageHashFromString(difference); err != nil {
		return Hashes{}, apperr.Wrap(err, apperr.CodeInvalidPayload, "parse difference hash")
	}
	if h.Perceptual, err = goimagehash.ImageHashFromString(perceptual); err != nil {
		return Hashes{}, apperr.Wrap(err, apperr.CodeInvalidPayload, "parse perceptual hash")
	}
	return h, nil
}
