package embedding

import "math"

// kmeans assigns each vector to one of k clusters using Lloyd's algorithm
// with deterministic spread-out seeding (every len/k-th vector becomes an
// initial centroid). Returns one cluster index per input vector.
func kmeans(vectors [][]float32, k, maxIter int) []int {
	n := len(vectors)
	assignments := make([]int, n)
	if n == 0 || k <= 1 {
		return assignments
	}
	dim := len(vectors[0])

	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = make([]float64, dim)
		src := vectors[(i*n)/k]
		for j, v := range src {
			centroids[i][j] = float64(v)
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		moved := false
		for i, vec := range vectors {
			best, bestDist := 0, math.Inf(1)
			for c := range centroids {
				d := sqDist(vec, centroids[c])
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				moved = true
			}
		}
		if !moved && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, vec := range vectors {
			c := assignments[i]
			counts[c]++
			for j, v := range vec {
				sums[c][j] += float64(v)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue // empty cluster keeps its centroid
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	return assignments
}

func sqDist(a []float32, b []float64) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - b[i]
		sum += d * d
	}
	return sum
}
