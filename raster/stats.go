package raster

import (
	"math"
	"sort"
)

// Stats summarises a set of cell values.
type Stats struct {
	Count    int     `json:"count"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Sum      float64 `json:"sum"`
	Avg      float64 `json:"avg"`
	StdDev   float64 `json:"stddev"`
	Variance float64 `json:"variance"`
}

// Accumulator computes running statistics with Welford's method.
type Accumulator struct {
	n        int
	min, max float64
	sum      float64
	mean, m2 float64
}

func (a *Accumulator) Add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if a.n == 0 {
		a.min, a.max = v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.n++
	a.sum += v
	d := v - a.mean
	a.mean += d / float64(a.n)
	a.m2 += d * (v - a.mean)
}

// Merge folds b into a.
func (a *Accumulator) Merge(b *Accumulator) {
	if b.n == 0 {
		return
	}
	if a.n == 0 {
		*a = *b
		return
	}
	n := a.n + b.n
	d := b.mean - a.mean
	a.mean += d * float64(b.n) / float64(n)
	a.m2 += b.m2 + d*d*float64(a.n)*float64(b.n)/float64(n)
	a.sum += b.sum
	a.min = math.Min(a.min, b.min)
	a.max = math.Max(a.max, b.max)
	a.n = n
}

func (a *Accumulator) Count() int {
	return a.n
}

// Stats returns the population statistics of the values seen so far.
func (a *Accumulator) Stats() Stats {
	if a.n == 0 {
		return Stats{}
	}
	variance := a.m2 / float64(a.n)
	return Stats{
		Count:    a.n,
		Min:      a.min,
		Max:      a.max,
		Sum:      a.sum,
		Avg:      a.mean,
		StdDev:   math.Sqrt(variance),
		Variance: variance,
	}
}

// Median returns the median of values. values is sorted in place.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sort.Float64s(values)
	m := len(values) / 2
	if len(values)%2 == 1 {
		return values[m]
	}
	return (values[m-1] + values[m]) / 2
}

// GridStats returns the statistics of every valid cell of g.
func GridStats(g *Grid) Stats {
	var a Accumulator
	for _, v := range g.Data {
		if !g.IsNoData(v) {
			a.Add(v)
		}
	}
	return a.Stats()
}
