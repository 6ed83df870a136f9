package dicomweb

import (
	"errors"
	"testing"
)

func TestAttributesString(t *testing.T) {
	datasets, err := ParseDatasets([]byte(`[{
		"0020000D": {"vr": "UI", "Value": ["2.25.111"]},
		"00100010": {"vr": "PN", "Value": [{"Alphabetic": "DOE^JANE"}]},
		"00080060": {"vr": "CS", "Value": ["CT"]},
		"00201208": {"vr": "IS", "Value": [42]},
		"00080020": {"vr": "DA"}
	}]`))
	if err != nil {
		t.Fatalf("ParseDatasets: %v", err)
	}
	if len(datasets) != 1 {
		t.Fatalf("datasets = %d, want 1", len(datasets))
	}
	ds := datasets[0]

	if got := ds.String(TagStudyInstanceUID); got != "2.25.111" {
		t.Errorf("study uid = %q", got)
	}
	if got := ds.String(TagPatientName); got != "DOE^JANE" {
		t.Errorf("patient name = %q", got)
	}
	if got := ds.String(TagModality); got != "CT" {
		t.Errorf("modality = %q", got)
	}
	if got := ds.String("00201208"); got != "42" {
		t.Errorf("numeric value = %q, want 42", got)
	}
	if ds.Has(TagStudyDate) {
		t.Error("attribute without Value array should not count as present")
	}
	if got := ds.String("00081030"); got != "" {
		t.Errorf("absent tag = %q, want empty", got)
	}
}

func TestAttributesPersonNameBareString(t *testing.T) {
	datasets, err := ParseDatasets([]byte(`[{"00100010": {"vr": "PN", "Value": ["SMITH^JOHN"]}}]`))
	if err != nil {
		t.Fatalf("ParseDatasets: %v", err)
	}
	if got := datasets[0].String(TagPatientName); got != "SMITH^JOHN" {
		t.Errorf("patient name = %q, want SMITH^JOHN", got)
	}
}

func TestAttributesMultiValue(t *testing.T) {
	datasets, err := ParseDatasets([]byte(`[{"00080061": {"vr": "CS", "Value": ["SR", "CT"]}}]`))
	if err != nil {
		t.Fatalf("ParseDatasets: %v", err)
	}
	ds := datasets[0]

	vals := ds.Strings(TagModalitiesInStudy)
	if len(vals) != 2 || vals[0] != "SR" || vals[1] != "CT" {
		t.Errorf("values = %v", vals)
	}
	if got := ds.Flatten()[TagModalitiesInStudy]; got != `SR\CT` {
		t.Errorf("flattened = %q", got)
	}
}

func TestParseDatasetsEmptyBody(t *testing.T) {
	datasets, err := ParseDatasets([]byte("  \n"))
	if err != nil {
		t.Fatalf("ParseDatasets: %v", err)
	}
	if datasets != nil {
		t.Errorf("datasets = %v, want nil", datasets)
	}
}

func TestParseDatasetsMalformed(t *testing.T) {
	_, err := ParseDatasets([]byte(`<html>gateway error</html>`))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}
