package network

import (
	"fmt"
	"strconv"
	"strings"
)

// Slice selects a half-open index range [Lo, Hi) of a vector. The zero value
// selects the whole vector.
type Slice struct {
	Lo int
	Hi int
}

// All selects the whole vector.
var All = Slice{}

// Index selects the single component i.
func Index(i int) Slice { return Slice{Lo: i, Hi: i + 1} }

// Range selects components lo through hi-1.
func Range(lo, hi int) Slice { return Slice{Lo: lo, Hi: hi} }

// IsAll reports whether the slice selects the whole vector.
func (s Slice) IsAll() bool { return s.Lo == 0 && s.Hi == 0 }

func (s Slice) String() string {
	switch {
	case s.IsAll():
		return ":"
	case s.Hi == -1:
		return strconv.Itoa(s.Lo) + ":"
	case s.Hi == s.Lo+1:
		return strconv.Itoa(s.Lo)
	default:
		return fmt.Sprintf("%d:%d", s.Lo, s.Hi)
	}
}

func (s Slice) suffix() string {
	if s.IsAll() {
		return ""
	}
	return "[" + s.String() + "]"
}

type span struct{ lo, hi int }

func (sp span) len() int { return sp.hi - sp.lo }

// resolve checks the slice against a vector dimension.
func (s Slice) resolve(dim int) (span, error) {
	if s.IsAll() {
		return span{0, dim}, nil
	}
	if s.Lo < 0 || s.Hi > dim || s.Lo >= s.Hi {
		return span{}, fmt.Errorf("slice [%s] out of range for dimension %d", s, dim)
	}
	return span{s.Lo, s.Hi}, nil
}

// ParseSlice parses "", ":", "i", "lo:hi", "lo:" and ":hi". Open upper bounds
// are only meaningful once the vector dimension is known, so "lo:" is
// returned with Hi = -1 and closed when the connection is built.
func ParseSlice(s string) (Slice, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == ":" {
		return All, nil
	}
	lo, hi, found := strings.Cut(s, ":")
	if !found {
		i, err := strconv.Atoi(lo)
		if err != nil || i < 0 {
			return Slice{}, fmt.Errorf("invalid slice index %q", s)
		}
		return Index(i), nil
	}
	var out Slice
	if lo = strings.TrimSpace(lo); lo != "" {
		v, err := strconv.Atoi(lo)
		if err != nil || v < 0 {
			return Slice{}, fmt.Errorf("invalid slice start %q", lo)
		}
		out.Lo = v
	}
	if hi = strings.TrimSpace(hi); hi != "" {
		v, err := strconv.Atoi(hi)
		if err != nil || v < 0 {
			return Slice{}, fmt.Errorf("invalid slice end %q", hi)
		}
		out.Hi = v
	} else {
		out.Hi = -1
	}
	if out.Hi == 0 {
		return Slice{}, fmt.Errorf("empty slice %q", s)
	}
	return out, nil
}

// ParseEndpoint splits "osc1[0:2]" into its node name and slice.
func ParseEndpoint(s string) (string, Slice, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '[')
	if open < 0 {
		if s == "" {
			return "", Slice{}, fmt.Errorf("empty endpoint")
		}
		return s, All, nil
	}
	if !strings.HasSuffix(s, "]") {
		return "", Slice{}, fmt.Errorf("endpoint %q: missing closing bracket", s)
	}
	name := strings.TrimSpace(s[:open])
	if name == "" {
		return "", Slice{}, fmt.Errorf("endpoint %q: missing node name", s)
	}
	sl, err := ParseSlice(s[open+1 : len(s)-1])
	if err != nil {
		return "", Slice{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	return name, sl, nil
}

// openEnded fills in an open upper bound ("lo:") once dim is known.
func (s Slice) openEnded(dim int) Slice {
	if s.Hi == -1 {
		if s.Lo == 0 {
			return All
		}
		s.Hi = dim
	}
	return s
}
