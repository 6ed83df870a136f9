package dicomweb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/metrics"
)

// dialectPaths are the studies-resource suffixes known from vendor archives,
// probed strictly in this order. dcm4chee, Orthanc and a couple of commercial
// PACS each mount QIDO-RS somewhere different.
var dialectPaths = []string{
	"/qido/studies",
	"/dicom-web/studies",
	"/dcm4chee-arc/rs/studies",
	"/studies",
	"/dicom-web/qido/studies",
	"/dicomweb/studies",
}

// ResolveEndpoint probes the known QIDO dialects under base and returns the
// first studies URL that answers the query. A credential rejection aborts the
// probe immediately since every dialect would fail the same way. The result
// is per call, never cached, so archives reconfigured between calls are
// picked up.
func (c *Client) ResolveEndpoint(ctx context.Context, base string, q Query) (string, []Attributes, error) {
	var lastErr error
	for _, path := range dialectPaths {
		searchURL := base + path
		datasets, err := c.SearchStudies(ctx, searchURL, q)
		if err == nil {
			metrics.QIDORequests.WithLabelValues(path, "ok").Inc()
			return searchURL, datasets, nil
		}
		if errors.Is(err, ErrUnauthorized) {
			metrics.QIDORequests.WithLabelValues(path, "unauthorized").Inc()
			return "", nil, err
		}
		metrics.QIDORequests.WithLabelValues(path, "error").Inc()
		log.Debug().Str("url", searchURL).Err(err).Msg("QIDO dialect probe failed")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no dialect candidates")
	}
	return "", nil, fmt.Errorf("%w: %v", ErrEndpointNotFound, lastErr)
}
