package docstore

import (
	"fmt"
	"strings"
)

// compareValues orders two field values. Numbers compare numerically,
// timestamps chronologically, strings lexically and false before true.
// Values of different kinds are not comparable.
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}

	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr || !bStr {
		if ta, ok := toTime(a); ok {
			tb, ok := toTime(b)
			if !ok {
				return 0, false
			}
			return ta.Compare(tb), true
		}
	}

	if aStr && bStr {
		return strings.Compare(a.(string), b.(string)), true
	}

	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}

	return 0, false
}

// matches reports whether r satisfies every condition.
func matches(r Record, where []Condition) bool {
	for _, c := range where {
		v, ok := r.Value(c.Field)
		if !ok {
			return false
		}
		if !c.test(v) {
			return false
		}
	}
	return true
}

func (c Condition) test(v any) bool {
	cmp, ok := compareValues(v, c.Value)
	switch c.Op {
	case Eq:
		return ok && cmp == 0
	case Ne:
		return !ok || cmp != 0
	case Lt:
		return ok && cmp < 0
	case Lte:
		return ok && cmp <= 0
	case Gt:
		return ok && cmp > 0
	case Gte:
		return ok && cmp >= 0
	}
	return false
}

// validate rejects operators the stores do not understand.
func (c Condition) validate() error {
	switch c.Op {
	case Eq, Ne, Lt, Lte, Gt, Gte:
		return nil
	}
	return fmt.Errorf("unsupported operator %q on field %q", c.Op, c.Field)
}
