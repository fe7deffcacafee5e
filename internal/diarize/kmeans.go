package diarize

import (
	"math"
	"math/rand/v2"
)

const (
	clusterCount   = 2
	kmeansRestarts = 10
	kmeansMaxIter  = 100
)

// clusterSegments groups normalized feature vectors into two clusters with
// k-means. The PRNG is seeded with a fixed value so repeated runs over the
// same recording assign identical clusters; the best of several restarts
// (by inertia) is kept. Fewer than two rows trivially map to cluster 0.
func clusterSegments(rows []featureVector) []int {
	if len(rows) < clusterCount {
		return make([]int, len(rows))
	}

	rng := rand.New(rand.NewPCG(42, 0))

	best := make([]int, len(rows))
	bestInertia := math.Inf(1)
	for range kmeansRestarts {
		centroids := seedCentroids(rows, rng)
		assign, inertia := lloyd(rows, centroids)
		if inertia < bestInertia {
			bestInertia = inertia
			copy(best, assign)
		}
	}
	return best
}

// seedCentroids picks initial centroids k-means++ style: the first uniformly
// at random, the second weighted by squared distance from the first.
func seedCentroids(rows []featureVector, rng *rand.Rand) [clusterCount]featureVector {
	var centroids [clusterCount]featureVector
	centroids[0] = rows[rng.IntN(len(rows))]

	weights := make([]float64, len(rows))
	var total float64
	for i, row := range rows {
		weights[i] = sqDist(row, centroids[0])
		total += weights[i]
	}
	if total == 0 {
		// All rows identical; both centroids coincide.
		centroids[1] = centroids[0]
		return centroids
	}

	target := rng.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if acc >= target {
			centroids[1] = rows[i]
			return centroids
		}
	}
	centroids[1] = rows[len(rows)-1]
	return centroids
}

// lloyd iterates assignment and centroid updates until assignments settle,
// returning the final assignment and its inertia. An emptied cluster is
// reseeded with the row farthest from the surviving centroid.
func lloyd(rows []featureVector, centroids [clusterCount]featureVector) ([]int, float64) {
	assign := make([]int, len(rows))
	for range kmeansMaxIter {
		changed := false
		for i, row := range rows {
			c := nearest(row, centroids)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}

		var sums [clusterCount]featureVector
		var counts [clusterCount]int
		for i, row := range rows {
			c := assign[i]
			counts[c]++
			for d, v := range row {
				sums[c][d] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				other := 1 - c
				centroids[c] = rows[farthest(rows, centroids[other])]
				changed = true
				continue
			}
			for d := range sums[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}

		if !changed {
			break
		}
	}

	var inertia float64
	for i, row := range rows {
		inertia += sqDist(row, centroids[assign[i]])
	}
	return assign, inertia
}

func nearest(row featureVector, centroids [clusterCount]featureVector) int {
	if sqDist(row, centroids[1]) < sqDist(row, centroids[0]) {
		return 1
	}
	return 0
}

func farthest(rows []featureVector, from featureVector) int {
	idx, max := 0, -1.0
	for i, row := range rows {
		if d := sqDist(row, from); d > max {
			idx, max = i, d
		}
	}
	return idx
}

func sqDist(a, b featureVector) float64 {
	var sum float64
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return sum
}
