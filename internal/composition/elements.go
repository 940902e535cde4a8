package composition

import "strings"

// elementSymbols maps common element names (and lowercase symbols) to the
// canonical symbol used in readings and rules.
var elementSymbols = map[string]string{
	"silicon": "Si", "si": "Si",
	"iron": "Fe", "fe": "Fe",
	"copper": "Cu", "cu": "Cu",
	"manganese": "Mn", "mn": "Mn",
	"magnesium": "Mg", "mg": "Mg",
	"zinc": "Zn", "zn": "Zn",
	"titanium": "Ti", "ti": "Ti",
	"aluminium": "Al", "aluminum": "Al", "al": "Al",
	"chromium": "Cr", "cr": "Cr",
	"nickel": "Ni", "ni": "Ni",
	"lead": "Pb", "pb": "Pb",
	"tin": "Sn", "sn": "Sn",
	"vanadium": "V", "v": "V",
	"zirconium": "Zr", "zr": "Zr",
	"boron": "B", "b": "B",
	"calcium": "Ca", "ca": "Ca",
	"sodium": "Na", "na": "Na",
	"phosphorus": "P", "p": "P",
	"sulfur": "S", "s": "S",
	"beryllium": "Be", "be": "Be",
	"bismuth": "Bi", "bi": "Bi",
	"cadmium": "Cd", "cd": "Cd",
	"gallium": "Ga", "ga": "Ga",
	"lithium": "Li", "li": "Li",
	"strontium": "Sr", "sr": "Sr",
}

// NormalizeElement resolves an element name or symbol to its canonical
// symbol: "iron" -> "Fe", "fe" -> "Fe", "Si" -> "Si". Unknown short inputs
// are capitalized and returned as-is so new elements do not require a map
// change.
func NormalizeElement(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	if symbol, ok := elementSymbols[strings.ToLower(trimmed)]; ok {
		return symbol
	}
	if len(trimmed) <= 2 {
		return strings.ToUpper(trimmed[:1]) + strings.ToLower(trimmed[1:])
	}
	return trimmed
}

// NormalizeReadings returns a copy of readings keyed by canonical symbols.
// On a key collision after normalization the later value wins; callers that
// care reject duplicates upstream.
func NormalizeReadings(readings map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(readings))
	for name, value := range readings {
		symbol := NormalizeElement(name)
		if symbol == "" {
			continue
		}
		out[symbol] = value
	}
	return out
}
