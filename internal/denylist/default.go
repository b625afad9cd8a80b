package denylist

// DefaultPatterns contains the built-in entries. The addresses are the
// well-known black-hole accounts whose keys nobody holds; value sent there
// is gone for good.
var DefaultPatterns = Patterns{
	Addresses: []string{
		"rrrrrrrrrrrrrrrrrrrrrhoLvTp", // account zero
		"rrrrrrrrrrrrrrrrrrrrBZbvji",  // account one
		"rrrrrrrrrrrrrrrrrNAMEtxvNvQ",
		"rrrrrrrrrrrrrrrrrrrn5RM1rHd", // NaN
	},
}
