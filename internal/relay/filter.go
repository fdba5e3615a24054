package relay

// Filter gates new client connections by source IP. A single exact
// presentation-format address is supported; an empty entry admits everyone.
// There is no CIDR or range matching and no IPv4/IPv6 normalization, so
// "::ffff:10.0.0.5" and "10.0.0.5" are distinct entries. Known limitation,
// kept deliberately.
type Filter struct {
	allowed string
}

func NewFilter(allowedIP string) *Filter {
	return &Filter{allowed: allowedIP}
}

// Allowed reports whether the given source host may proceed. Comparison is
// case-sensitive string equality.
func (f *Filter) Allowed(host string) bool {
	return f.allowed == "" || f.allowed == host
}
