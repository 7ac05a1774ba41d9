package commands

// Registry maps aliases to commands. It is immutable once built.
type Registry struct {
	defs    []Definition
	byKind  map[Kind]Definition
	aliases map[string][]Definition
}

func NewRegistry(defs []Definition) *Registry {
	r := &Registry{
		defs:    defs,
		byKind:  make(map[Kind]Definition, len(defs)),
		aliases: make(map[string][]Definition),
	}
	for _, d := range defs {
		r.byKind[d.Kind] = d
		for _, a := range d.Aliases {
			r.aliases[a] = append(r.aliases[a], d)
		}
	}
	return r
}

// Resolve finds the command for token, user tier first. Commands sharing
// an alias are told apart by argc: the one without declared args wins
// when argc is zero, the one with args otherwise.
func (r *Registry) Resolve(token string, argc int) (Definition, bool) {
	cands := r.aliases[token]
	if len(cands) == 0 {
		return Definition{}, false
	}
	for _, tier := range []Tier{TierUser, TierAdmin} {
		var inTier []Definition
		for _, d := range cands {
			if d.Tier == tier {
				inTier = append(inTier, d)
			}
		}
		if len(inTier) > 0 {
			return pick(inTier, argc), true
		}
	}
	return Definition{}, false
}

func pick(cands []Definition, argc int) Definition {
	if len(cands) == 1 {
		return cands[0]
	}
	for _, d := range cands {
		if (argc == 0) == (len(d.Args) == 0) {
			return d
		}
	}
	return cands[0]
}

func (r *Registry) Lookup(kind Kind) (Definition, bool) {
	d, ok := r.byKind[kind]
	return d, ok
}

// ForTier returns the commands of one tier in table order.
func (r *Registry) ForTier(tier Tier) []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		if d.Tier == tier {
			out = append(out, d)
		}
	}
	return out
}
