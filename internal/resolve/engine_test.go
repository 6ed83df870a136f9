package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ipacx/pacs-gateway/internal/dicomweb"
	"github.com/ipacx/pacs-gateway/internal/models"
)

// attrs builds a DICOM JSON dataset from plain tag-to-value pairs.
func attrs(pairs map[string]string) dicomweb.Attributes {
	out := make(dicomweb.Attributes, len(pairs))
	for tag, value := range pairs {
		raw, _ := json.Marshal(value)
		out[tag] = dicomweb.Attribute{VR: "LO", Value: []json.RawMessage{raw}}
	}
	return out
}

// multiAttr builds one multi-valued attribute.
func multiAttr(values ...string) dicomweb.Attribute {
	raws := make([]json.RawMessage, len(values))
	for i, v := range values {
		raws[i], _ = json.Marshal(v)
	}
	return dicomweb.Attribute{VR: "CS", Value: raws}
}

type fakeQuerier struct {
	studies    []dicomweb.Attributes
	studyErr   error
	series     []dicomweb.Attributes
	instances  []dicomweb.Attributes
	seriesInst []dicomweb.Attributes

	resolveCalls  int
	seriesCalls   int
	instanceCalls int
}

func (f *fakeQuerier) ResolveEndpoint(_ context.Context, base string, _ dicomweb.Query) (string, []dicomweb.Attributes, error) {
	f.resolveCalls++
	if f.studyErr != nil {
		return "", nil, f.studyErr
	}
	return base + "/dicom-web/studies", f.studies, nil
}

func (f *fakeQuerier) SearchSeries(_ context.Context, _, _ string) ([]dicomweb.Attributes, error) {
	f.seriesCalls++
	return f.series, nil
}

func (f *fakeQuerier) SearchInstances(_ context.Context, _, _ string, _ int) ([]dicomweb.Attributes, error) {
	f.instanceCalls++
	return f.instances, nil
}

func (f *fakeQuerier) SearchSeriesInstances(_ context.Context, _, _, _ string, _ int) ([]dicomweb.Attributes, error) {
	f.instanceCalls++
	return f.seriesInst, nil
}

type fakeStore struct {
	row    *models.StudyMetadata
	getErr error
	filled chan *models.StudyMetadata
}

func newFakeStore(row *models.StudyMetadata) *fakeStore {
	return &fakeStore{row: row, filled: make(chan *models.StudyMetadata, 1)}
}

func (f *fakeStore) Get(_ context.Context, _ string) (*models.StudyMetadata, error) {
	return f.row, f.getErr
}

func (f *fakeStore) Fill(_ context.Context, meta *models.StudyMetadata) error {
	f.filled <- meta
	return nil
}

type fakeServers struct {
	servers []models.PACSServer
	err     error
}

func (f *fakeServers) Active(_ context.Context) ([]models.PACSServer, error) {
	return f.servers, f.err
}

func oneWebServer() *fakeServers {
	return &fakeServers{servers: []models.PACSServer{{
		ID:       1,
		Name:     "archive",
		Protocol: models.ProtocolDICOMWeb,
		BaseURL:  "http://pacs.local:8042",
		IsActive: true,
	}}}
}

func newTestEngine(store MetadataStore, servers ServerSource, q Querier) *Engine {
	e := NewEngine(store, servers, time.Second)
	e.clientFor = func(_, _ string) Querier { return q }
	return e
}

func fullStudyAttrs() dicomweb.Attributes {
	a := attrs(map[string]string{
		dicomweb.TagPatientName:        "DOE^JANE",
		dicomweb.TagPatientID:          "MRN-42",
		dicomweb.TagPatientSex:         "F",
		dicomweb.TagPatientAge:         "043Y",
		dicomweb.TagAccessionNumber:    "ACC000123",
		dicomweb.TagStudyDate:          "20260115",
		dicomweb.TagStudyDescription:   "CT ABDOMEN PLAIN",
		dicomweb.TagReferringPhysician: "HOUSE^GREG",
		dicomweb.TagBodyPartExamined:   "ABDOMEN",
		dicomweb.TagModality:           "CT",
	})
	return a
}

func TestResolveStudyLayerSufficient(t *testing.T) {
	q := &fakeQuerier{studies: []dicomweb.Attributes{fullStudyAttrs()}}
	store := newFakeStore(nil)
	e := newTestEngine(store, oneWebServer(), q)

	rec := e.Resolve(context.Background(), "2.25.111")

	if rec.PatientName != "DOE JANE" || rec.PatientID != "MRN-42" {
		t.Errorf("patient = %q/%q", rec.PatientName, rec.PatientID)
	}
	if rec.Modality != "CT" {
		t.Errorf("modality = %q, want CT", rec.Modality)
	}
	if rec.Provenance["modality"] != models.SourceStudy {
		t.Errorf("modality provenance = %q, want study", rec.Provenance["modality"])
	}
	if q.seriesCalls != 0 || q.instanceCalls != 0 {
		t.Errorf("deeper layers ran: series=%d instance=%d", q.seriesCalls, q.instanceCalls)
	}

	select {
	case meta := <-store.filled:
		if meta.Modality != "CT" || meta.PatientID != "MRN-42" {
			t.Errorf("written back meta = %+v", meta)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write-back never reached the store")
	}
}

func TestResolveWeakModalityUpgradedBySeries(t *testing.T) {
	study := fullStudyAttrs()
	study[dicomweb.TagModality] = multiAttr("SR")
	q := &fakeQuerier{
		studies: []dicomweb.Attributes{study},
		series: []dicomweb.Attributes{
			attrs(map[string]string{dicomweb.TagModality: "SR"}),
			attrs(map[string]string{dicomweb.TagModality: "CT"}),
		},
		instances: []dicomweb.Attributes{attrs(map[string]string{dicomweb.TagModality: "CT"})},
	}
	store := newFakeStore(nil)
	e := newTestEngine(store, oneWebServer(), q)

	rec := e.Resolve(context.Background(), "2.25.111")

	if rec.Modality != "CT" {
		t.Errorf("modality = %q, want CT after upgrade", rec.Modality)
	}
	if rec.Provenance["modality"] != models.SourceSeries {
		t.Errorf("modality provenance = %q, want series", rec.Provenance["modality"])
	}
	if q.seriesCalls == 0 {
		t.Error("series scan never ran")
	}
	<-store.filled
}

func TestResolveHeuristicFallback(t *testing.T) {
	study := attrs(map[string]string{
		dicomweb.TagPatientName:        "DOE^JANE",
		dicomweb.TagPatientID:          "MRN-42",
		dicomweb.TagPatientSex:         "F",
		dicomweb.TagAccessionNumber:    "ACC000123",
		dicomweb.TagStudyDate:          "20260115",
		dicomweb.TagStudyDescription:   "CT ABDOMEN PLAIN",
		dicomweb.TagReferringPhysician: "HOUSE^GREG",
		dicomweb.TagBodyPartExamined:   "ABDOMEN",
	})
	q := &fakeQuerier{studies: []dicomweb.Attributes{study}}
	store := newFakeStore(nil)
	e := newTestEngine(store, oneWebServer(), q)

	rec := e.Resolve(context.Background(), "2.25.111")

	if rec.Modality != "CT" {
		t.Errorf("modality = %q, want heuristic CT", rec.Modality)
	}
	if rec.Provenance["modality"] != models.SourceHeuristic {
		t.Errorf("modality provenance = %q, want heuristic", rec.Provenance["modality"])
	}
	<-store.filled
}

func TestResolveCompleteCacheSkipsNetwork(t *testing.T) {
	q := &fakeQuerier{}
	store := newFakeStore(&models.StudyMetadata{
		StudyInstanceUID:   "2.25.111",
		PatientName:        "DOE^JANE",
		PatientID:          "MRN-42",
		PatientSex:         "F",
		PatientAge:         "043Y",
		AccessionNumber:    "ACC000123",
		StudyDate:          "20260115",
		StudyDescription:   "CT ABDOMEN PLAIN",
		ReferringPhysician: "HOUSE^GREG",
		BodyPart:           "ABDOMEN",
		Modality:           "CT",
	})
	e := newTestEngine(store, oneWebServer(), q)

	rec := e.Resolve(context.Background(), "2.25.111")

	if q.resolveCalls != 0 || q.seriesCalls != 0 || q.instanceCalls != 0 {
		t.Errorf("network calls ran against a complete cache: %d/%d/%d",
			q.resolveCalls, q.seriesCalls, q.instanceCalls)
	}
	if rec.PatientName != "DOE^JANE" || rec.Provenance["patientName"] != models.SourceCache {
		t.Errorf("patient name = %q (%q)", rec.PatientName, rec.Provenance["patientName"])
	}

	select {
	case meta := <-store.filled:
		t.Errorf("unexpected write-back %+v for purely cached record", meta)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResolveCachedFieldsAreSticky(t *testing.T) {
	q := &fakeQuerier{studies: []dicomweb.Attributes{fullStudyAttrs()}}
	store := newFakeStore(&models.StudyMetadata{
		StudyInstanceUID: "2.25.111",
		PatientID:        "CORRECTED-ID",
	})
	e := newTestEngine(store, oneWebServer(), q)

	rec := e.Resolve(context.Background(), "2.25.111")

	if rec.PatientID != "CORRECTED-ID" {
		t.Errorf("patient id = %q, cached value must win", rec.PatientID)
	}
	if rec.Provenance["patientID"] != models.SourceCache {
		t.Errorf("patient id provenance = %q", rec.Provenance["patientID"])
	}

	select {
	case meta := <-store.filled:
		if meta.PatientID != "" {
			t.Errorf("write-back carries cached patient id %q", meta.PatientID)
		}
		if meta.PatientName != "DOE JANE" {
			t.Errorf("write-back missing fetched name: %+v", meta)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write-back never reached the store")
	}
}

func TestResolveEmbeddedDemographicsRescued(t *testing.T) {
	study := fullStudyAttrs()
	study[dicomweb.TagPatientName] = multiAttr("DOE^JANE^43Y/F")
	delete(study, dicomweb.TagPatientSex)
	delete(study, dicomweb.TagPatientAge)
	q := &fakeQuerier{studies: []dicomweb.Attributes{study}}
	store := newFakeStore(nil)
	e := newTestEngine(store, oneWebServer(), q)

	rec := e.Resolve(context.Background(), "2.25.111")

	if rec.PatientName != "DOE JANE" {
		t.Errorf("patient name = %q, demographics component must be stripped", rec.PatientName)
	}
	if rec.PatientAge != "43Y" || rec.PatientSex != "F" {
		t.Errorf("rescued demographics = %q/%q, want 43Y/F", rec.PatientAge, rec.PatientSex)
	}
	<-store.filled
}

func TestResolveNoServersNeverFails(t *testing.T) {
	store := newFakeStore(nil)
	e := newTestEngine(store, &fakeServers{err: errors.New("db down")}, &fakeQuerier{})

	rec := e.Resolve(context.Background(), "2.25.111")

	if rec == nil || rec.StudyInstanceUID != "2.25.111" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.PatientName != "" || rec.Modality != "" {
		t.Errorf("record unexpectedly populated: %+v", rec)
	}
}

func TestResolveStudyErrorFallsThrough(t *testing.T) {
	q := &fakeQuerier{studyErr: errors.New("connection refused")}
	store := newFakeStore(&models.StudyMetadata{
		StudyInstanceUID: "2.25.111",
		StudyDescription: "XRAY CHEST PA",
	})
	e := newTestEngine(store, oneWebServer(), q)

	rec := e.Resolve(context.Background(), "2.25.111")

	// The heuristic still runs over cached text when no archive answers.
	if rec.Modality != "XR" {
		t.Errorf("modality = %q, want heuristic XR", rec.Modality)
	}
}
