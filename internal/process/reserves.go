package process

// TokenIDLength is the length of a token process id; only keys of this
// length are treated as reserves.
const TokenIDLength = 43

// placeholderKeys are internal keys some pools report next to real tokens.
var placeholderKeys = map[string]struct{}{
	"TokenA": {},
	"TokenB": {},
	"K":      {},
}

// MatchResult is the outcome of comparing two reserve maps.
type MatchResult int

const (
	MatchUnknown MatchResult = iota // at least one source has not reported
	MatchOK
	MatchMismatch
)

func (m MatchResult) String() string {
	switch m {
	case MatchOK:
		return "match"
	case MatchMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// MarshalText renders the result as "match", "mismatch" or "unknown".
func (m MatchResult) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// IsTokenKey reports whether key looks like a token id.
func IsTokenKey(key string) bool {
	if len(key) != TokenIDLength {
		return false
	}
	_, skip := placeholderKeys[key]
	return !skip
}

// FilterTokenKeys returns the entries of m whose key is a token id.
// A nil map stays nil.
func FilterTokenKeys(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsTokenKey(k) {
			out[k] = v
		}
	}
	return out
}

// ReservesMatch compares reserves reported by the two sources token by token.
// Amounts are compared as exact strings and never parsed.
func ReservesMatch(hb, ao map[string]string) MatchResult {
	if hb == nil || ao == nil {
		return MatchUnknown
	}
	h := FilterTokenKeys(hb)
	a := FilterTokenKeys(ao)
	if len(h) != len(a) {
		return MatchMismatch
	}
	for k, hv := range h {
		av, ok := a[k]
		if !ok || av != hv {
			return MatchMismatch
		}
	}
	return MatchOK
}
