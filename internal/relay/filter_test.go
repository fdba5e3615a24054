package relay

import "testing"

func TestFilterAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed string
		host    string
		want    bool
	}{
		{name: "no filter admits anything", allowed: "", host: "10.0.0.9", want: true},
		{name: "exact match admitted", allowed: "10.0.0.5", host: "10.0.0.5", want: true},
		{name: "different address rejected", allowed: "10.0.0.5", host: "10.0.0.9", want: false},
		{name: "no subnet matching", allowed: "10.0.0.0/24", host: "10.0.0.5", want: false},
		{name: "no v4-mapped normalization", allowed: "10.0.0.5", host: "::ffff:10.0.0.5", want: false},
		{name: "ipv6 exact match", allowed: "2001:db8::1", host: "2001:db8::1", want: true},
		{name: "case sensitive", allowed: "2001:DB8::1", host: "2001:db8::1", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewFilter(tt.allowed).Allowed(tt.host); got != tt.want {
				t.Errorf("Allowed(%q) with entry %q = %v, want %v", tt.host, tt.allowed, got, tt.want)
			}
		})
	}
}
