package storage

import (
	"sort"

	"github.com/modelwatch/modelwatch/pkg/models"
)

// DefaultDownsampleCap is the target length for downsampled trend series
const DefaultDownsampleCap = 500

// Downsample reduces an ascending-by-time series to at most cap points
// while preserving its visible features: both endpoints, every status
// transition, and the global latency extremes. Series at or under the
// cap are returned unchanged.
func Downsample(points []models.TrendDataPoint, cap int) []models.TrendDataPoint {
	if cap <= 0 {
		cap = DefaultDownsampleCap
	}
	if len(points) <= cap {
		return points
	}

	selected := make(map[int]struct{})
	selected[0] = struct{}{}
	selected[len(points)-1] = struct{}{}

	for i := 1; i < len(points); i++ {
		if points[i].Status != points[i-1].Status {
			selected[i] = struct{}{}
		}
	}

	minIdx, maxIdx := latencyExtremes(points)
	if minIdx >= 0 {
		selected[minIdx] = struct{}{}
	}
	if maxIdx >= 0 {
		selected[maxIdx] = struct{}{}
	}

	var indices []int
	if len(selected) >= cap {
		indices = strideSubsample(sortedIndices(selected), cap, len(points)-1)
	} else {
		indices = strideFill(selected, cap, len(points))
	}

	out := make([]models.TrendDataPoint, 0, len(indices))
	for _, i := range indices {
		out = append(out, points[i])
	}
	return out
}

// latencyExtremes returns the indices of the first global minimum and
// first global maximum latency in a single left-to-right scan. Points
// without a latency are skipped; -1 means no point had one.
func latencyExtremes(points []models.TrendDataPoint) (minIdx, maxIdx int) {
	minIdx, maxIdx = -1, -1
	for i, p := range points {
		if p.LatencyMs == nil {
			continue
		}
		if minIdx == -1 || *p.LatencyMs < *points[minIdx].LatencyMs {
			minIdx = i
		}
		if maxIdx == -1 || *p.LatencyMs > *points[maxIdx].LatencyMs {
			maxIdx = i
		}
	}
	return minIdx, maxIdx
}

func sortedIndices(selected map[int]struct{}) []int {
	indices := make([]int, 0, len(selected))
	for i := range selected {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// strideSubsample thins an already-sorted index list down to exactly
// cap entries. The last original index is force-kept so downsampling
// never drops the newest point.
func strideSubsample(indices []int, cap, lastIdx int) []int {
	if len(indices) <= cap {
		return indices
	}

	stride := float64(len(indices)) / float64(cap)
	out := make([]int, 0, cap)
	for i := 0; i < cap; i++ {
		out = append(out, indices[int(float64(i)*stride)])
	}
	if out[len(out)-1] != lastIdx {
		out[len(out)-1] = lastIdx
	}
	return out
}

// strideFill pads the selected set with indices taken at a uniform
// stride over the full sequence until the cap is reached.
func strideFill(selected map[int]struct{}, cap, n int) []int {
	remaining := cap - len(selected)
	stride := n / remaining
	if stride < 1 {
		stride = 1
	}

	for i := 0; i < n && len(selected) < cap; i += stride {
		selected[i] = struct{}{}
	}

	return sortedIndices(selected)
}
