package query

// Split divides f into the part a backend evaluates natively and the residual
// that must be evaluated in memory over the native results. AND nodes split per
// operand; every other node is pushed down whole or not at all.
func Split(f Filter, can func(Filter) bool) (native, residual Filter) {
	if f == nil {
		return nil, nil
	}
	if and, ok := f.(*AndFilter); ok {
		var n, r []Filter
		for _, c := range and.Filters {
			cn, cr := Split(c, can)
			if cn != nil {
				n = append(n, cn)
			}
			if cr != nil {
				r = append(r, cr)
			}
		}
		return And(n...), And(r...)
	}
	if can(f) {
		return f, nil
	}
	return nil, f
}

// Never is a capability function for backends that evaluate nothing natively.
func Never(Filter) bool { return false }
