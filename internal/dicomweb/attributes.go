package dicomweb

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Commonly used tags, as 8-char uppercase hex group+element.
const (
	TagStudyInstanceUID   = "0020000D"
	TagSeriesInstanceUID  = "0020000E"
	TagSOPInstanceUID     = "00080018"
	TagPatientName        = "00100010"
	TagPatientID          = "00100020"
	TagPatientSex         = "00100040"
	TagPatientAge         = "00101010"
	TagAccessionNumber    = "00080050"
	TagStudyDate          = "00080020"
	TagStudyDescription   = "00081030"
	TagSeriesDescription  = "0008103E"
	TagReferringPhysician = "00080090"
	TagBodyPartExamined   = "00180015"
	TagModality           = "00080060"
	TagModalitiesInStudy  = "00080061"
	TagProtocolName       = "00181030"
)

// Attribute is one DICOM JSON attribute: a VR plus a value array.
type Attribute struct {
	VR    string `json:"vr"`
	Value []json.RawMessage `json:"Value,omitempty"`
}

// Attributes is one DICOM JSON dataset keyed by tag.
type Attributes map[string]Attribute

// personName is the DICOM JSON shape of a PN value.
type personName struct {
	Alphabetic  string `json:"Alphabetic"`
	Ideographic string `json:"Ideographic"`
	Phonetic    string `json:"Phonetic"`
}

// String returns the first value of the tag rendered as a string, or "" when
// the tag is absent or empty. PN values collapse to their Alphabetic form.
func (a Attributes) String(tag string) string {
	attr, ok := a[tag]
	if !ok || len(attr.Value) == 0 {
		return ""
	}
	return decodeValue(attr.VR, attr.Value[0])
}

// Strings returns all values of the tag as strings.
func (a Attributes) Strings(tag string) []string {
	attr, ok := a[tag]
	if !ok || len(attr.Value) == 0 {
		return nil
	}
	out := make([]string, 0, len(attr.Value))
	for _, raw := range attr.Value {
		if s := decodeValue(attr.VR, raw); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether the tag is present with at least one value.
func (a Attributes) Has(tag string) bool {
	attr, ok := a[tag]
	return ok && len(attr.Value) > 0
}

func decodeValue(vr string, raw json.RawMessage) string {
	switch vr {
	case "PN":
		var pn personName
		if err := json.Unmarshal(raw, &pn); err == nil && pn.Alphabetic != "" {
			return strings.TrimSpace(pn.Alphabetic)
		}
		// Some archives emit PN values as bare strings.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		return ""
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return fmt.Sprintf("%t", b)
		}
		return ""
	}
}

// Flatten renders the dataset as a flat tag-to-string map, joining multi-value
// attributes with backslashes the way DICOM does on the wire.
func (a Attributes) Flatten() map[string]string {
	out := make(map[string]string, len(a))
	for tag := range a {
		if vals := a.Strings(tag); len(vals) > 0 {
			out[tag] = strings.Join(vals, "\\")
		}
	}
	return out
}

// ParseDatasets decodes a QIDO-RS response body into datasets.
func ParseDatasets(body []byte) ([]Attributes, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}
	var datasets []Attributes
	if err := json.Unmarshal(body, &datasets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return datasets, nil
}
