package dicomweb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestResolveEndpointProbesDialectsInOrder(t *testing.T) {
	var probed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed = append(probed, r.URL.Path)
		if r.URL.Path != "/dcm4chee-arc/rs/studies" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/dicom+json")
		w.Write([]byte(`[{"0020000D": {"vr": "UI", "Value": ["2.25.111"]}}]`))
	}))
	defer srv.Close()

	client := NewClient("", "", 5*time.Second)
	searchURL, datasets, err := client.ResolveEndpoint(context.Background(), srv.URL, Query{StudyInstanceUID: "2.25.111"})
	if err != nil {
		t.Fatalf("ResolveEndpoint: %v", err)
	}
	if searchURL != srv.URL+"/dcm4chee-arc/rs/studies" {
		t.Errorf("search url = %q", searchURL)
	}
	if len(datasets) != 1 || datasets[0].String(TagStudyInstanceUID) != "2.25.111" {
		t.Errorf("datasets = %v", datasets)
	}

	want := []string{"/qido/studies", "/dicom-web/studies", "/dcm4chee-arc/rs/studies"}
	if len(probed) != len(want) {
		t.Fatalf("probed %v, want %v", probed, want)
	}
	for i := range want {
		if probed[i] != want[i] {
			t.Errorf("probe %d = %q, want %q", i, probed[i], want[i])
		}
	}
}

func TestResolveEndpointStopsOnUnauthorized(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient("viewer", "wrong", 5*time.Second)
	_, _, err := client.ResolveEndpoint(context.Background(), srv.URL, Query{StudyInstanceUID: "2.25.111"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (probing must stop on credential rejection)", requests)
	}
}

func TestResolveEndpointNoDialectAnswers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient("", "", 5*time.Second)
	_, _, err := client.ResolveEndpoint(context.Background(), srv.URL, Query{StudyInstanceUID: "2.25.111"})
	if !errors.Is(err, ErrEndpointNotFound) {
		t.Fatalf("err = %v, want ErrEndpointNotFound", err)
	}
}

func TestSearchStudiesSendsAuthAndAccept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/dicom+json" {
			t.Errorf("accept header = %q", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "viewer" || pass != "secret" {
			t.Errorf("basic auth = %q/%q ok=%v", user, pass, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient("viewer", "secret", 5*time.Second)
	datasets, err := client.SearchStudies(context.Background(), srv.URL+"/studies", Query{StudyInstanceUID: "2.25.111"})
	if err != nil {
		t.Fatalf("SearchStudies: %v", err)
	}
	if datasets != nil {
		t.Errorf("datasets = %v, want nil for 204", datasets)
	}
}

func TestEncodeQueryDefaultsStudyDateRange(t *testing.T) {
	qs := encodeQuery(Query{Limit: 10})
	params, err := url.ParseQuery(strings.TrimPrefix(qs, "?"))
	if err != nil {
		t.Fatalf("parse query %q: %v", qs, err)
	}
	studyDate := params.Get("StudyDate")
	if !strings.Contains(studyDate, "-") || len(studyDate) != 17 {
		t.Errorf("StudyDate = %q, want a yyyymmdd-yyyymmdd range", studyDate)
	}
	if params.Get("limit") != "10" {
		t.Errorf("limit = %q", params.Get("limit"))
	}
}

func TestEncodeQueryFilteredSkipsDefaultRange(t *testing.T) {
	qs := encodeQuery(Query{AccessionNumber: "ACC000123", IncludeFields: []string{"00080061"}})
	params, err := url.ParseQuery(strings.TrimPrefix(qs, "?"))
	if err != nil {
		t.Fatalf("parse query %q: %v", qs, err)
	}
	if params.Has("StudyDate") {
		t.Error("filtered query should not get a default StudyDate range")
	}
	if params.Get("AccessionNumber") != "ACC000123" {
		t.Errorf("AccessionNumber = %q", params.Get("AccessionNumber"))
	}
	if params.Get("includefield") != "00080061" {
		t.Errorf("includefield = %q", params.Get("includefield"))
	}
}
