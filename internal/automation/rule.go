package automation

// Evaluate reports whether the rule fires for env.
//
// Each non-empty bucket is combined with its own combinator and the results
// are joined with the rule's operator. Disabled rules and rules without
// conditions never fire.
func (r *Rule) Evaluate(env Env) bool {
	if !r.Enabled || len(r.Conditions) == 0 {
		return false
	}

	buckets := make(map[GroupType][]bool, 3)
	for _, c := range r.Conditions {
		buckets[c.Group] = append(buckets[c.Group], c.Evaluate(env, r.LastRunAt))
	}

	var results []bool
	for _, g := range []GroupType{GroupAllOf, GroupAnyOf, GroupOneOf} {
		if vals, ok := buckets[g]; ok {
			results = append(results, EvaluateGroup(g, vals))
		}
	}
	if len(results) == 0 {
		// Only conditions with unknown group types.
		return false
	}

	switch r.Operator {
	case OperatorAnd:
		for _, ok := range results {
			if !ok {
				return false
			}
		}
		return true
	case OperatorOr:
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EvaluateGroup combines one bucket's results. An empty allOf is true;
// an empty anyOf or oneOf is false.
func EvaluateGroup(g GroupType, results []bool) bool {
	trues := 0
	for _, ok := range results {
		if ok {
			trues++
		}
	}

	switch g {
	case GroupAllOf:
		return trues == len(results)
	case GroupAnyOf:
		return trues > 0
	case GroupOneOf:
		return trues == 1
	default:
		return false
	}
}
