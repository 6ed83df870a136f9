package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/ipacx/pacs-gateway/internal/dicomweb"
)

func TestTagsMergesStudyOverInstance(t *testing.T) {
	study := attrs(map[string]string{
		dicomweb.TagStudyDescription: "CT ABDOMEN PLAIN",
		dicomweb.TagAccessionNumber:  "ACC000123",
	})
	instance := attrs(map[string]string{
		dicomweb.TagAccessionNumber:  "STALE",
		dicomweb.TagBodyPartExamined: "ABDOMEN",
		dicomweb.TagProtocolName:     "ABD 5MM",
	})
	q := &fakeQuerier{
		studies:   []dicomweb.Attributes{study},
		instances: []dicomweb.Attributes{instance},
	}
	e := newTestEngine(newFakeStore(nil), oneWebServer(), q)

	tags, err := e.Tags(context.Background(), "2.25.111")
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}

	if got := tags[dicomweb.TagAccessionNumber]; got != "ACC000123" {
		t.Errorf("accession = %q, study-level value must win", got)
	}
	if got := tags[dicomweb.TagProtocolName]; got != "ABD 5MM" {
		t.Errorf("protocol = %q, instance-only tags must survive", got)
	}
	if got := tags[dicomweb.TagBodyPartExamined]; got != "ABDOMEN" {
		t.Errorf("body part = %q", got)
	}
}

func TestTagsErrorsWhenNoServerAnswers(t *testing.T) {
	q := &fakeQuerier{studyErr: errors.New("connection refused")}
	e := newTestEngine(newFakeStore(nil), oneWebServer(), q)

	if _, err := e.Tags(context.Background(), "2.25.111"); err == nil {
		t.Fatal("expected error when every archive fails")
	}
}
