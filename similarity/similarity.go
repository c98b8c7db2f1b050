// Package similarity scores a candidate embedding against a character's
// reference embeddings. It is a pure function over its inputs: loading and
// mutating references is the curator's business.
package similarity

import (
	"math"

	"assetgate/errs"

	"github.com/m-mizutani/goerr/v2"
)

type Method string

const (
	BestMatch       Method = "best_match"
	Average         Method = "average"
	WeightedAverage Method = "weighted_average"
)

func (m Method) Valid() bool {
	return m == BestMatch || m == Average || m == WeightedAverage
}

type Reference struct {
	ID     uint64 // asset id, informational
	Vector []float32
	Weight float64 // reference weight x embedding confidence
}

type Result struct {
	Score          float64   `json:"score"`
	Method         Method    `json:"method"`
	FirstReference bool      `json:"first_reference"`
	Similarities   []float64 `json:"similarities,omitempty"` // same order as the references
	BestID         uint64    `json:"best_id,omitempty"`
}

// Consistency aggregates the similarity of candidate to every reference.
// Without references the candidate is the first one and scores 1.0.
func Consistency(candidate []float32, refs []Reference, method Method) (Result, error) {
	if !method.Valid() {
		return Result{}, goerr.New("unknown aggregation method", goerr.V("method", method))
	}
	if IsNull(candidate) {
		return Result{}, goerr.Wrap(errs.ErrEncodingFailure, "candidate vector is null")
	}
	if len(refs) == 0 {
		return Result{Score: 1, Method: method, FirstReference: true}, nil
	}

	c := Normalize(candidate)
	result := Result{Method: method, Similarities: make([]float64, len(refs))}
	best := -1.0
	var sum, weighted, totalWeight float64
	for i, ref := range refs {
		if len(ref.Vector) != len(candidate) {
			return Result{}, goerr.Wrap(errs.ErrDimensionMismatch, "reference vector length differs",
				goerr.V("candidate", len(candidate)), goerr.V("reference", len(ref.Vector)), goerr.V("asset_id", ref.ID))
		}
		if IsNull(ref.Vector) {
			return Result{}, goerr.Wrap(errs.ErrEncodingFailure, "reference vector is null", goerr.V("asset_id", ref.ID))
		}
		s := clamp(dot(c, Normalize(ref.Vector)))
		result.Similarities[i] = s
		if s > best {
			best = s
			result.BestID = ref.ID
		}
		sum += s
		if ref.Weight > 0 {
			weighted += s * ref.Weight
			totalWeight += ref.Weight
		}
	}

	switch method {
	case BestMatch:
		result.Score = best
	case Average:
		result.Score = sum / float64(len(refs))
	case WeightedAverage:
		if totalWeight > 0 {
			result.Score = weighted / totalWeight
		}
	}
	result.Score = round(result.Score)
	return result, nil
}

// Cosine returns the clamped cosine similarity of two vectors.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, goerr.Wrap(errs.ErrDimensionMismatch, "vector length differs",
			goerr.V("a", len(a)), goerr.V("b", len(b)))
	}
	if IsNull(a) || IsNull(b) {
		return 0, goerr.Wrap(errs.ErrEncodingFailure, "null vector")
	}
	return round(clamp(dot(Normalize(a), Normalize(b)))), nil
}

// Normalize returns a unit-length float64 copy of v.
func Normalize(v []float32) []float64 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out
}

// IsNull reports the sentinel an embedding backend returns when it could not
// process an image: empty, all-zero or non-finite.
func IsNull(v []float32) bool {
	if len(v) == 0 {
		return true
	}
	zero := true
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
		if x != 0 {
			zero = false
		}
	}
	return zero
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Negative cosine means "nothing alike" for consistency purposes.
func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// round drops float noise below 1e-9 so that a vector compared with itself
// scores exactly 1.
func round(s float64) float64 {
	return math.Round(s*1e9) / 1e9
}
