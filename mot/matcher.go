package mot

import (
	"sort"

	hungarian "github.com/arthurkushman/go-hungarian"
)

// Matcher selects the algorithm used to assign detections to tracks.
type Matcher uint16

const (
	// MatcherGreedy matches the highest-IoU pairs first. It is an
	// approximation of the optimal assignment, but it makes the tie-break
	// rule (higher IoU, then higher detection confidence, then lower
	// track ID) directly expressible, and it is what the matching stage
	// defaults to.
	MatcherGreedy Matcher = iota
	// MatcherHungarian uses the Kuhn-Munkres algorithm for a globally
	// optimal assignment. Determinism comes from the fixed row ordering
	// (ascending track ID) and a small confidence bias on equal-IoU cells.
	MatcherHungarian
)

// confidenceTieBias is added per unit of detection confidence so that
// equal-IoU assignments prefer the more confident detection. It is far below
// any meaningful IoU difference.
const confidenceTieBias = 1e-6

// candidate is one admissible (track, detection) pairing.
type candidate struct {
	trackIdx int
	detIdx   int
	iou      float64
}

// greedyAssign picks (track, detection) pairs in descending IoU order,
// subject to the minimum-IoU gate. Ties break by higher detection
// confidence, then lower track ID, then lower detection index.
// iouMatrix is indexed [track][detection]; trackIDs must be sorted ascending.
// The second return value counts ambiguous pairings (equal-IoU candidates
// competing for the same track or detection) that the tie-break resolved.
func greedyAssign(iouMatrix [][]float64, gate float64, dets []Detection, trackIDs []int64) ([][2]int, int) {
	candidates := make([]candidate, 0, len(iouMatrix)*2)
	for i := range iouMatrix {
		for j, v := range iouMatrix[i] {
			if v >= gate && v > 0 {
				candidates = append(candidates, candidate{trackIdx: i, detIdx: j, iou: v})
			}
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.iou != cb.iou {
			return ca.iou > cb.iou
		}
		if dets[ca.detIdx].Confidence != dets[cb.detIdx].Confidence {
			return dets[ca.detIdx].Confidence > dets[cb.detIdx].Confidence
		}
		if trackIDs[ca.trackIdx] != trackIDs[cb.trackIdx] {
			return trackIDs[ca.trackIdx] < trackIDs[cb.trackIdx]
		}
		return ca.detIdx < cb.detIdx
	})

	ambiguous := 0
	for i := 1; i < len(candidates); i++ {
		prev, cur := candidates[i-1], candidates[i]
		if prev.iou == cur.iou && (prev.trackIdx == cur.trackIdx || prev.detIdx == cur.detIdx) {
			ambiguous++
		}
	}

	usedTracks := make(map[int]struct{}, len(iouMatrix))
	usedDets := make(map[int]struct{}, len(dets))
	matches := make([][2]int, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := usedTracks[c.trackIdx]; ok {
			continue
		}
		if _, ok := usedDets[c.detIdx]; ok {
			continue
		}
		matches = append(matches, [2]int{c.trackIdx, c.detIdx})
		usedTracks[c.trackIdx] = struct{}{}
		usedDets[c.detIdx] = struct{}{}
	}
	return matches, ambiguous
}

// hungarianAssign computes a globally optimal assignment over the IoU matrix
// and then filters pairs below the gate. Rectangular problems are padded to a
// square matrix with zero-valued dummy cells.
func hungarianAssign(iouMatrix [][]float64, gate float64, dets []Detection) [][2]int {
	numTracks := len(iouMatrix)
	if numTracks == 0 || len(dets) == 0 {
		return nil
	}
	numDets := len(iouMatrix[0])

	size := numTracks
	if numDets > size {
		size = numDets
	}
	padded := make([][]float64, size)
	for i := 0; i < size; i++ {
		padded[i] = make([]float64, size)
	}
	for i := 0; i < numTracks; i++ {
		for j := 0; j < numDets; j++ {
			if iouMatrix[i][j] > 0 {
				padded[i][j] = iouMatrix[i][j] + dets[j].Confidence*confidenceTieBias
			}
		}
	}

	assignments := hungarian.SolveMax(padded)

	matches := make([][2]int, 0, numTracks)
	for trackIdx, row := range assignments {
		if trackIdx >= numTracks {
			continue
		}
		for detIdx := range row {
			if detIdx < numDets && iouMatrix[trackIdx][detIdx] >= gate && iouMatrix[trackIdx][detIdx] > 0 {
				matches = append(matches, [2]int{trackIdx, detIdx})
			}
			break
		}
	}
	sort.Slice(matches, func(a, b int) bool {
		return matches[a][0] < matches[b][0]
	})
	return matches
}
