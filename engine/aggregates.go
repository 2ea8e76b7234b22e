package engine

import (
	"fmt"
	"math"

	"github.com/mattn/go-sqlite3"
)

func registerAggregates(conn *sqlite3.SQLiteConn) error {
	aggs := []struct {
		name string
		impl interface{}
	}{
		{"acc_first", newFirstAgg},
		{"acc_last", newLastAgg},
		{"acc_stdev", func() *varianceAgg { return &varianceAgg{sample: true, root: true} }},
		{"acc_stdevp", func() *varianceAgg { return &varianceAgg{root: true} }},
		{"acc_var", func() *varianceAgg { return &varianceAgg{sample: true} }},
		{"acc_varp", func() *varianceAgg { return &varianceAgg{} }},
	}
	for _, a := range aggs {
		if err := conn.RegisterAggregator(a.name, a.impl, true); err != nil {
			return fmt.Errorf("failed to register aggregate %s: %w", a.name, err)
		}
	}
	return nil
}

// firstAgg keeps the value of the first row in the group.
type firstAgg struct {
	seen  bool
	value interface{}
}

func newFirstAgg() *firstAgg { return &firstAgg{} }

func (a *firstAgg) Step(v interface{}) {
	if !a.seen {
		a.seen = true
		a.value = v
	}
}

func (a *firstAgg) Done() interface{} { return a.value }

// lastAgg keeps the value of the last row in the group.
type lastAgg struct {
	value interface{}
}

func newLastAgg() *lastAgg { return &lastAgg{} }

func (a *lastAgg) Step(v interface{}) { a.value = v }

func (a *lastAgg) Done() interface{} { return a.value }

// varianceAgg uses Welford's online algorithm and ignores nulls.
type varianceAgg struct {
	sample bool
	root   bool
	n      int64
	mean   float64
	m2     float64
}

func (a *varianceAgg) Step(v interface{}) error {
	if isNull(v) {
		return nil
	}
	x, err := toFloat(v)
	if err != nil {
		return err
	}
	a.n++
	delta := x - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (x - a.mean)
	return nil
}

func (a *varianceAgg) Done() interface{} {
	div := float64(a.n)
	if a.sample {
		div--
	}
	if div <= 0 {
		return nil
	}
	out := a.m2 / div
	if a.root {
		out = math.Sqrt(out)
	}
	return out
}
