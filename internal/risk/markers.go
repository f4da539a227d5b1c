package risk

import "strings"

// markerGroup is a set of case-insensitive substrings sharing one reason
type markerGroup struct {
	Reason   string
	Patterns []string
}

var dangerMarkers = markerGroup{
	Reason:   ReasonDangerousCapability,
	Patterns: []string{"selfdestruct", "suicide", "delegatecall", "callcode"},
}

// Order matters: the first matching group supplies the reason.
var cautionMarkers = []markerGroup{
	{
		Reason:   ReasonExternalCall,
		Patterns: []string{".call(", ".call{", "call.value", `"call"`},
	},
	{
		Reason: ReasonUnlimitedAllowance,
		Patterns: []string{
			"type(uint256).max",
			"uint256(-1)",
			"2**256",
			"0x" + strings.Repeat("f", 64),
		},
	},
	{
		Reason:   ReasonDelegatedTransfer,
		Patterns: []string{"transferfrom"},
	},
}

// match returns true when text (already lowercased) contains any pattern
func (g markerGroup) match(text string) bool {
	for _, p := range g.Patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
