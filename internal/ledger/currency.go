package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// NativeCurrency is the ledger's native asset, expressed in drops on the wire.
const NativeCurrency = "XRP"

// DropsPerUnit converts native units to drops.
const DropsPerUnit = 1_000_000

// EncodeCurrency returns the wire form of a currency code. Three-character
// ASCII codes are used as-is; longer codes become a 160-bit hex code.
func EncodeCurrency(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("currency code must not be empty")
	}
	if strings.EqualFold(code, NativeCurrency) {
		return "", fmt.Errorf("currency code %q is reserved for the native asset", code)
	}
	if len(code) == 40 {
		if _, err := hex.DecodeString(code); err == nil {
			if strings.HasPrefix(code, "00") {
				return "", fmt.Errorf("hex currency code must not start with 0x00")
			}
			return strings.ToUpper(code), nil
		}
	}
	for _, r := range code {
		if r < 0x21 || r > 0x7e {
			return "", fmt.Errorf("currency code %q contains non-printable or non-ASCII characters", code)
		}
	}
	switch {
	case len(code) == 3:
		return code, nil
	case len(code) > 3 && len(code) <= 20:
		buf := make([]byte, 20)
		copy(buf, code)
		return strings.ToUpper(hex.EncodeToString(buf)), nil
	default:
		return "", fmt.Errorf("currency code %q must be 3 to 20 characters", code)
	}
}
