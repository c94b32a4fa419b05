package raster

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	EqualInterval = "EqualInterval"
	Quantile      = "Quantile"
	NaturalBreaks = "NaturalBreaks"
)

// jenksSampleSize bounds the input of the O(k*n^2) natural breaks search.
const jenksSampleSize = 3000

// Breaks returns classes+1 class boundaries for values, lowest first. The
// first boundary is the minimum and the last the maximum.
func Breaks(values []float64, classes int, method string) ([]float64, error) {
	if classes < 1 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", classes)
	}
	var vals []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("no valid values to classify")
	}
	sort.Float64s(vals)

	switch strings.ToLower(method) {
	case "", strings.ToLower(EqualInterval):
		return equalInterval(vals, classes), nil
	case strings.ToLower(Quantile):
		return quantile(vals, classes), nil
	case strings.ToLower(NaturalBreaks), "jenks":
		return naturalBreaks(vals, classes), nil
	}
	return nil, fmt.Errorf("unknown classification method '%s'", method)
}

func equalInterval(sorted []float64, classes int) []float64 {
	lo, hi := sorted[0], sorted[len(sorted)-1]
	step := (hi - lo) / float64(classes)
	out := make([]float64, classes+1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[classes] = hi
	return out
}

func quantile(sorted []float64, classes int) []float64 {
	out := make([]float64, classes+1)
	out[0] = sorted[0]
	for i := 1; i < classes; i++ {
		out[i] = sorted[i*len(sorted)/classes]
	}
	out[classes] = sorted[len(sorted)-1]
	return out
}

// naturalBreaks runs the Jenks optimisation over sorted values, sampling
// large inputs at evenly spaced ranks.
func naturalBreaks(sorted []float64, classes int) []float64 {
	data := sorted
	if len(data) > jenksSampleSize {
		data = make([]float64, jenksSampleSize)
		for i := range data {
			data[i] = sorted[i*(len(sorted)-1)/(jenksSampleSize-1)]
		}
	}
	n := len(data)
	if classes >= n {
		out := append([]float64{data[0]}, data...)
		for len(out) < classes+1 {
			out = append(out, data[n-1])
		}
		return out[:classes+1]
	}

	lower := make([][]int, n+1)
	variance := make([][]float64, n+1)
	for i := range lower {
		lower[i] = make([]int, classes+1)
		variance[i] = make([]float64, classes+1)
	}
	for j := 1; j <= classes; j++ {
		lower[1][j] = 1
		for i := 2; i <= n; i++ {
			variance[i][j] = math.Inf(1)
		}
	}

	for l := 2; l <= n; l++ {
		var s1, s2, w float64
		var v float64
		for m := 1; m <= l; m++ {
			i3 := l - m + 1
			val := data[i3-1]
			s2 += val * val
			s1 += val
			w++
			v = s2 - s1*s1/w
			i4 := i3 - 1
			if i4 == 0 {
				continue
			}
			for j := 2; j <= classes; j++ {
				if variance[l][j] >= v+variance[i4][j-1] {
					lower[l][j] = i3
					variance[l][j] = v + variance[i4][j-1]
				}
			}
		}
		lower[l][1] = 1
		variance[l][1] = v
	}

	out := make([]float64, classes+1)
	out[classes] = data[n-1]
	out[0] = data[0]
	k := n
	for j := classes; j >= 2; j-- {
		id := lower[k][j] - 2
		out[j-1] = data[id+1]
		k = lower[k][j] - 1
	}
	return out
}

// ClassOf returns the index of the class holding v, or -1 when v is outside
// the breaks. Classes are closed below, the last one is closed on both ends.
func ClassOf(breaks []float64, v float64) int {
	if len(breaks) < 2 || math.IsNaN(v) || v < breaks[0] || v > breaks[len(breaks)-1] {
		return -1
	}
	last := len(breaks) - 2
	i := sort.Search(len(breaks), func(i int) bool { return breaks[i] > v }) - 1
	if i > last {
		i = last
	}
	return i
}
