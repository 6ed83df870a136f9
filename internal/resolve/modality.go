package resolve

import "strings"

// weakModalities are non-image SOP classes. They are never reported as the
// study modality when a real imaging modality is available anywhere in the
// study, and a weak value may be upgraded by a later layer.
var weakModalities = map[string]bool{
	"SR":  true,
	"PR":  true,
	"KO":  true,
	"OT":  true,
	"DOC": true,
	"TXT": true,
	"SEG": true,
	"REG": true,
}

// IsStrongModality reports whether m names a real imaging modality.
func IsStrongModality(m string) bool {
	m = strings.ToUpper(strings.TrimSpace(m))
	return m != "" && !weakModalities[m]
}

// pickStrongModality returns the first strong entry from a ModalitiesInStudy
// list, or "" when the list holds only weak classes.
func pickStrongModality(values []string) string {
	for _, v := range values {
		if IsStrongModality(v) {
			return strings.ToUpper(strings.TrimSpace(v))
		}
	}
	return ""
}

// heuristicTokens maps description tokens to modality codes, checked in order.
var heuristicTokens = []struct {
	token    string
	modality string
}{
	{"CT", "CT"},
	{"MRI", "MR"},
	{"MR", "MR"},
	{"X-RAY", "XR"},
	{"XRAY", "XR"},
	{"XR", "XR"},
	{"ULTRASOUND", "US"},
	{"USG", "US"},
	{"US", "US"},
	{"CR", "CR"},
	{"DX", "DX"},
	{"MAMMO", "MG"},
	{"MG", "MG"},
	{"PET", "PT"},
	{"PT", "PT"},
	{"NM", "NM"},
}

// GuessModality scans a free-text study description for modality tokens.
// Tokens must stand alone as words so "SCOUT" never matches "US".
func GuessModality(description string) string {
	if description == "" {
		return ""
	}
	words := tokenize(strings.ToUpper(description))
	for _, t := range heuristicTokens {
		if words[t.token] {
			return t.modality
		}
	}
	return ""
}

func tokenize(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '-'
	}) {
		words[w] = true
	}
	// "X-RAY" survives as one token; also index its dehyphenated form.
	for w := range words {
		if strings.Contains(w, "-") {
			words[strings.ReplaceAll(w, "-", "")] = true
		}
	}
	return words
}
