package resolve

import (
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// embeddedDemographics matches age/sex fragments some RIS integrations stuff
// into name components, e.g. "SHARMA^V^43Y/F".
var embeddedDemographics = regexp.MustCompile(`^(\d{1,3}[DWMY])\s*/\s*([MFO])$`)

// CleanPersonName turns a DICOM person name into a display string: caret
// separators become spaces and whitespace runs collapse. Components that are
// embedded demographics fragments are dropped from the display form.
func CleanPersonName(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "^")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || embeddedDemographics.MatchString(p) {
			continue
		}
		kept = append(kept, p)
	}
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(strings.Join(kept, " ")), " ")
}

// ExtractEmbeddedDemographics pulls age and sex out of a raw person name when
// a component carries them, returning DICOM-style values ("43Y", "F").
func ExtractEmbeddedDemographics(raw string) (age, sex string) {
	for _, p := range strings.Split(raw, "^") {
		if m := embeddedDemographics.FindStringSubmatch(strings.TrimSpace(p)); m != nil {
			return m[1], m[2]
		}
	}
	return "", ""
}
