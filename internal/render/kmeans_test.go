// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDominantColorsSingleCluster(t *testing.T) {
	samples := make([]color.NRGBA, 100)
	for i := range samples {
		samples[i] = color.NRGBA{R: 200, G: 10, B: 30, A: 255}
	}
	got := dominantColors(samples, 1, rand.New(rand.NewSource(1)))
	require.Equal(t, []color.NRGBA{{R: 200, G: 10, B: 30, A: 255}}, got)
}

func TestDominantColorsOrdersBySize(t *testing.T) {
	var samples []color.NRGBA
	for i := 0; i < 90; i++ {
		samples = append(samples, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
	}
	for i := 0; i < 10; i++ {
		samples = append(samples, color.NRGBA{R: 5, G: 5, B: 5, A: 255})
	}
	got := dominantColors(samples, 2, rand.New(rand.NewSource(1)))
	require.Len(t, got, 2)
	// The majority cluster comes first.
	require.Greater(t, int(got[0].R), 200)
	require.Less(t, int(got[1].R), 50)
}

func TestDominantColorsEdgeCases(t *testing.T) {
	require.Nil(t, dominantColors(nil, 2, rand.New(rand.NewSource(1))))

	one := []color.NRGBA{{R: 1, G: 2, B: 3, A: 255}}
	got := dominantColors(one, 3, rand.New(rand.NewSource(1)))
	require.Equal(t, one, got)
}

func TestDominantColorsDeterministic(t *testing.T) {
	samples := make([]color.NRGBA, 200)
	rng := rand.New(rand.NewSource(7))
	for i := range samples {
		samples[i] = color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255}
	}
	a := dominantColors(samples, 2, rand.New(rand.NewSource(3)))
	b := dominantColors(samples, 2, rand.New(rand.NewSource(3)))
	require.Equal(t, a, b)
}
