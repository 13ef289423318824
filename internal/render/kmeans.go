// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"image/color"
	"math/rand"
)

const (
	kmeansIterations = 10
	// sampleFraction of a box's pixels feeds k-means, with a floor so tiny
	// boxes still produce a stable estimate.
	sampleFraction = 0.5
	minSamples     = 20
)

// dominantColors runs a small Lloyd k-means over the samples and returns
// the cluster centers ordered by cluster size, largest first. The caller
// provides the seeded source, which keeps rendering deterministic.
func dominantColors(samples []color.NRGBA, k int, rng *rand.Rand) []color.NRGBA {
	if len(samples) == 0 {
		return nil
	}
	if k > len(samples) {
		k = len(samples)
	}

	centers := make([][3]float64, k)
	for i := range centers {
		s := samples[rng.Intn(len(samples))]
		centers[i] = [3]float64{float64(s.R), float64(s.G), float64(s.B)}
	}

	assign := make([]int, len(samples))
	counts := make([]int, k)
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, s := range samples {
			best, bestD := 0, distSq(centers[0], s)
			for c := 1; c < k; c++ {
				if d := distSq(centers[c], s); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best || iter == 0 {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][3]float64, k)
		for i := range counts {
			counts[i] = 0
		}
		for i, s := range samples {
			c := assign[i]
			sums[c][0] += float64(s.R)
			sums[c][1] += float64(s.G)
			sums[c][2] += float64(s.B)
			counts[c]++
		}
		for c := range centers {
			if counts[c] == 0 {
				// Re-seed an empty cluster from a random sample.
				s := samples[rng.Intn(len(samples))]
				centers[c] = [3]float64{float64(s.R), float64(s.G), float64(s.B)}
				continue
			}
			n := float64(counts[c])
			centers[c] = [3]float64{sums[c][0] / n, sums[c][1] / n, sums[c][2] / n}
		}
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if counts[order[j]] > counts[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	out := make([]color.NRGBA, 0, k)
	for _, c := range order {
		out = append(out, color.NRGBA{
			R: uint8(centers[c][0] + 0.5),
			G: uint8(centers[c][1] + 0.5),
			B: uint8(centers[c][2] + 0.5),
			A: 255,
		})
	}
	return out
}

func distSq(c [3]float64, s color.NRGBA) float64 {
	dr := c[0] - float64(s.R)
	dg := c[1] - float64(s.G)
	db := c[2] - float64(s.B)
	return dr*dr + dg*dg + db*db
}
