package filter

// Simplify flattens nested AND/OR trees, removes neutral INCLUDE/EXCLUDE
// children, short-circuits absorbing ones and collapses single-child groups.
func Simplify(f Filter) Filter {
	switch t := f.(type) {
	case nil:
		return Include
	case And:
		var out And
		for _, c := range t {
			c = Simplify(c)
			switch c {
			case Include:
				continue
			case Exclude:
				return Exclude
			}
			if nested, ok := c.(And); ok {
				out = append(out, nested...)
				continue
			}
			out = append(out, c)
		}
		switch len(out) {
		case 0:
			return Include
		case 1:
			return out[0]
		}
		return out
	case Or:
		var out Or
		for _, c := range t {
			c = Simplify(c)
			switch c {
			case Exclude:
				continue
			case Include:
				return Include
			}
			if nested, ok := c.(Or); ok {
				out = append(out, nested...)
				continue
			}
			out = append(out, c)
		}
		switch len(out) {
		case 0:
			return Exclude
		case 1:
			return out[0]
		}
		return out
	case Not:
		inner := Simplify(t.Filter)
		switch inner {
		case Include:
			return Exclude
		case Exclude:
			return Include
		}
		if n, ok := inner.(Not); ok {
			return n.Filter
		}
		return Not{Filter: inner}
	}
	return f
}

// Conjoin ANDs the non-nil filters and simplifies the result.
func Conjoin(fs ...Filter) Filter {
	var a And
	for _, f := range fs {
		if f != nil {
			a = append(a, f)
		}
	}
	return Simplify(a)
}
