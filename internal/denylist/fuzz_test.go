package denylist

import "testing"

func FuzzIsBlocked(f *testing.F) {
	dl := New(Patterns{Requesters: []string{"bad-*", "[weird"}, Addresses: DefaultPatterns.Addresses})

	seeds := [][3]string{
		{"alice", "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", "gold-1"},
		{"bad-actor", "", ""},
		{"", "rrrrrrrrrrrrrrrrrrrrrhoLvTp", ""},
		{"(.*)", "*", "\x00"},
	}
	for _, s := range seeds {
		f.Add(s[0], s[1], s[2])
	}

	f.Fuzz(func(t *testing.T, requester, destination, asset string) {
		dl.IsBlocked(requester, destination, asset)
	})
}
