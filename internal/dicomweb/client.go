package dicomweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Query carries QIDO-RS search parameters. Zero-valued fields are omitted
// from the request.
type Query struct {
	StudyInstanceUID string
	AccessionNumber  string
	PatientID        string
	StudyDateFrom    time.Time
	StudyDateTo      time.Time
	Limit            int
	IncludeFields    []string
}

// Client issues QIDO-RS requests against a single archive.
type Client struct {
	http     *http.Client
	username string
	password string
}

// NewClient creates a QIDO-RS client. The timeout applies per request.
func NewClient(username, password string, timeout time.Duration) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		username: username,
		password: password,
	}
}

// SearchStudies runs a study-level query against searchURL, which must already
// point at a studies resource (base + dialect path).
func (c *Client) SearchStudies(ctx context.Context, searchURL string, q Query) ([]Attributes, error) {
	return c.get(ctx, searchURL+encodeQuery(q))
}

// SearchSeries queries the series of one study under the resolved studies URL.
func (c *Client) SearchSeries(ctx context.Context, searchURL, studyUID string) ([]Attributes, error) {
	return c.get(ctx, searchURL+"/"+url.PathEscape(studyUID)+"/series")
}

// SearchInstances queries instances of one study. Some archives only expose
// instances below series, so callers may need to go series by series.
func (c *Client) SearchInstances(ctx context.Context, searchURL, studyUID string, limit int) ([]Attributes, error) {
	u := searchURL + "/" + url.PathEscape(studyUID) + "/instances"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	return c.get(ctx, u)
}

// SearchSeriesInstances queries instances of one series.
func (c *Client) SearchSeriesInstances(ctx context.Context, searchURL, studyUID, seriesUID string, limit int) ([]Attributes, error) {
	u := searchURL + "/" + url.PathEscape(studyUID) + "/series/" + url.PathEscape(seriesUID) + "/instances"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	return c.get(ctx, u)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]Attributes, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/dicom+json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, rawURL)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, rawURL)
		}
		return nil, fmt.Errorf("qido request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("qido returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read qido response: %w", err)
	}

	datasets, err := ParseDatasets(body)
	if err != nil {
		log.Debug().Str("url", rawURL).Err(err).Msg("Unparseable QIDO body")
		return nil, err
	}
	return datasets, nil
}

// encodeQuery renders Query as a QIDO-RS query string. An unfiltered query
// gets a StudyDate range covering the last 7 days so wide-open archives do
// not dump their whole index on us.
func encodeQuery(q Query) string {
	params := url.Values{}
	filtered := false

	if q.StudyInstanceUID != "" {
		params.Set("StudyInstanceUID", q.StudyInstanceUID)
		filtered = true
	}
	if q.AccessionNumber != "" {
		params.Set("AccessionNumber", q.AccessionNumber)
		filtered = true
	}
	if q.PatientID != "" {
		params.Set("PatientID", q.PatientID)
		filtered = true
	}
	if !q.StudyDateFrom.IsZero() || !q.StudyDateTo.IsZero() {
		params.Set("StudyDate", dateRange(q.StudyDateFrom, q.StudyDateTo))
		filtered = true
	} else if !filtered {
		now := time.Now()
		params.Set("StudyDate", dateRange(now.AddDate(0, 0, -7), now))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	for _, f := range q.IncludeFields {
		params.Add("includefield", f)
	}

	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func dateRange(from, to time.Time) string {
	const layout = "20060102"
	switch {
	case from.IsZero():
		return "-" + to.Format(layout)
	case to.IsZero():
		return from.Format(layout) + "-"
	default:
		return from.Format(layout) + "-" + to.Format(layout)
	}
}
