// Package aggregate folds a fetched batch of records into derived statistics.
//
// Every function is pure and total: it reads only its arguments, and an empty
// batch yields the empty aggregate (no buckets, zero or the caller's default).
// Field access goes through accessor functions returning (value, ok) so that a
// missing field is an explicit branch at the call site.
package aggregate

import (
	"math"
	"sort"
	"time"
)

// Undefined is the bucket for records missing the counted field.
const Undefined = "undefined"

// Counts maps categories to counts, remembering the order in which categories
// were first seen.
type Counts struct {
	counts map[string]int
	order  []string
}

func (c *Counts) add(key string, n int) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key] += n
}

// Get returns the count for key.
func (c Counts) Get(key string) int {
	return c.counts[key]
}

// Keys returns categories in first-seen order.
func (c Counts) Keys() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of categories.
func (c Counts) Len() int {
	return len(c.order)
}

// Total returns the sum of all counts.
func (c Counts) Total() int {
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Map returns a copy of the counts as a plain map.
func (c Counts) Map() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// CountBy counts records by the value of field. Records without it land in
// the Undefined bucket.
func CountBy[T any](batch []T, field func(T) (string, bool)) Counts {
	var c Counts
	for _, rec := range batch {
		key, ok := field(rec)
		if !ok {
			key = Undefined
		}
		c.add(key, 1)
	}
	return c
}

// CountByEach counts every value of a multi-valued field. Records with no
// values contribute nothing.
func CountByEach[T any](batch []T, field func(T) []string) Counts {
	var c Counts
	for _, rec := range batch {
		for _, key := range field(rec) {
			c.add(key, 1)
		}
	}
	return c
}

// Item is one ranked category.
type Item struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// TopN returns the n largest categories, highest first. Ties keep first-seen
// order.
func TopN(c Counts, n int) []Item {
	if n <= 0 {
		return []Item{}
	}
	items := make([]Item, 0, len(c.order))
	for _, k := range c.order {
		items = append(items, Item{Name: k, Value: c.counts[k]})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Value > items[j].Value })
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// Mean averages field over records where it is a finite positive number, or
// returns def when there are none.
func Mean[T any](batch []T, field func(T) (float64, bool), def float64) float64 {
	sum, n := 0.0, 0
	for _, rec := range batch {
		v, ok := field(rec)
		if !ok || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return def
	}
	return sum / float64(n)
}

// SumWhere sums amount over records whose status is one of allowed. A missing
// amount counts as zero; a missing status never matches.
func SumWhere[T any](batch []T, status func(T) (string, bool), amount func(T) (float64, bool), allowed ...string) float64 {
	total := 0.0
	for _, rec := range batch {
		s, ok := status(rec)
		if !ok || !contains(allowed, s) {
			continue
		}
		if v, ok := amount(rec); ok && !math.IsNaN(v) {
			total += v
		}
	}
	return total
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Truncation maps a timestamp to the start of its bucket.
type Truncation func(time.Time) time.Time

// Hour buckets by UTC hour.
func Hour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Day buckets by UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Bucket is one time slot of a trend.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// BucketByTime counts records per truncated timestamp, oldest first. Only
// buckets holding at least one record are returned. Records without a
// timestamp are skipped.
func BucketByTime[T any](batch []T, ts func(T) (time.Time, bool), trunc Truncation) []Bucket {
	counts := make(map[time.Time]int)
	for _, rec := range batch {
		t, ok := ts(rec)
		if !ok {
			continue
		}
		counts[trunc(t)]++
	}
	out := make([]Bucket, 0, len(counts))
	for start, n := range counts {
		out = append(out, Bucket{Start: start, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Distinct counts the distinct present values of field.
func Distinct[T any](batch []T, field func(T) (string, bool)) int {
	seen := make(map[string]struct{})
	for _, rec := range batch {
		if v, ok := field(rec); ok {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

// CountWhere counts records satisfying pred.
func CountWhere[T any](batch []T, pred func(T) bool) int {
	n := 0
	for _, rec := range batch {
		if pred(rec) {
			n++
		}
	}
	return n
}

// Group is the sum of amounts for one key.
type Group struct {
	Key   string  `json:"key"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// GroupSum sums amount per key in first-seen key order. Records without a key
// are grouped under Undefined; a missing amount counts as zero.
func GroupSum[T any](batch []T, key func(T) (string, bool), amount func(T) (float64, bool)) []Group {
	index := make(map[string]int)
	var out []Group
	for _, rec := range batch {
		k, ok := key(rec)
		if !ok {
			k = Undefined
		}
		i, seen := index[k]
		if !seen {
			i = len(out)
			index[k] = i
			out = append(out, Group{Key: k})
		}
		out[i].Count++
		if v, ok := amount(rec); ok && !math.IsNaN(v) {
			out[i].Total += v
		}
	}
	if out == nil {
		return []Group{}
	}
	return out
}
