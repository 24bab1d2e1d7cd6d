package fitness

// InDatacenterFitness scores a proxy/resolver placement within one
// datacenter. The worst-fit role dominates the comparison so that no
// single role becomes a weak link; denser placements win ties.
type InDatacenterFitness struct {
	ProxyFit      Fitness
	ResolverFit   Fitness
	ProxyCount    int
	ResolverCount int
}

// WorstInDatacenterFitness is the identity for Better comparisons
func WorstInDatacenterFitness() InDatacenterFitness {
	return InDatacenterFitness{ProxyFit: NeverAssign, ResolverFit: NeverAssign}
}

// NewInDatacenterFitness scores a concrete placement: the fit of each role
// is the worst fit among its members.
func NewInDatacenterFitness(proxyClasses, resolverClasses []ProcessClass) InDatacenterFitness {
	f := InDatacenterFitness{
		ProxyFit:      BestFit,
		ResolverFit:   BestFit,
		ProxyCount:    len(proxyClasses),
		ResolverCount: len(resolverClasses),
	}
	for _, c := range proxyClasses {
		if fit := c.MachineClassFitness(RoleProxy); fit > f.ProxyFit {
			f.ProxyFit = fit
		}
	}
	for _, c := range resolverClasses {
		if fit := c.MachineClassFitness(RoleResolver); fit > f.ResolverFit {
			f.ResolverFit = fit
		}
	}
	return f
}

// Better reports whether f is a strictly better placement than other
func (f InDatacenterFitness) Better(other InDatacenterFitness) bool {
	lmax, lmin := maxMin(f.ProxyFit, f.ResolverFit)
	rmax, rmin := maxMin(other.ProxyFit, other.ResolverFit)

	if lmax != rmax {
		return lmax < rmax
	}
	if lmin != rmin {
		return lmin < rmin
	}
	if f.ProxyCount != other.ProxyCount {
		return f.ProxyCount > other.ProxyCount
	}
	return f.ResolverCount > other.ResolverCount
}

// Equal reports whether the two placements compare equal
func (f InDatacenterFitness) Equal(other InDatacenterFitness) bool {
	return f.ProxyFit == other.ProxyFit &&
		f.ResolverFit == other.ResolverFit &&
		f.ProxyCount == other.ProxyCount &&
		f.ResolverCount == other.ResolverCount
}

// AcrossDatacenterFitness scores a transaction-log placement: worst member
// fit first, then set size descending.
type AcrossDatacenterFitness struct {
	TLogFit   Fitness
	TLogCount int
}

// WorstAcrossDatacenterFitness is the identity for Better comparisons
func WorstAcrossDatacenterFitness() AcrossDatacenterFitness {
	return AcrossDatacenterFitness{TLogFit: NeverAssign}
}

// NewAcrossDatacenterFitness scores a concrete tlog set
func NewAcrossDatacenterFitness(tlogClasses []ProcessClass) AcrossDatacenterFitness {
	f := AcrossDatacenterFitness{TLogFit: BestFit, TLogCount: len(tlogClasses)}
	for _, c := range tlogClasses {
		if fit := c.MachineClassFitness(RoleTLog); fit > f.TLogFit {
			f.TLogFit = fit
		}
	}
	return f
}

// Better reports whether f is a strictly better placement than other
func (f AcrossDatacenterFitness) Better(other AcrossDatacenterFitness) bool {
	if f.TLogFit != other.TLogFit {
		return f.TLogFit < other.TLogFit
	}
	return f.TLogCount > other.TLogCount
}

// Equal reports whether the two placements compare equal
func (f AcrossDatacenterFitness) Equal(other AcrossDatacenterFitness) bool {
	return f.TLogFit == other.TLogFit && f.TLogCount == other.TLogCount
}

func maxMin(a, b Fitness) (Fitness, Fitness) {
	if a > b {
		return a, b
	}
	return b, a
}
