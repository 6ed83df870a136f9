package resolve

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/dicomweb"
	"github.com/ipacx/pacs-gateway/internal/models"
)

// Tags returns the merged raw tag map for a study: study-level attributes
// overlaid with one representative instance's full tag set. Study-level
// values win on conflict since they describe the whole study.
func (e *Engine) Tags(ctx context.Context, studyUID string) (map[string]string, error) {
	servers, err := e.servers.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list pacs servers: %w", err)
	}

	var lastErr error
	for _, srv := range servers {
		if srv.Protocol != models.ProtocolDICOMWeb {
			continue
		}
		base, err := srv.BaseCandidate()
		if err != nil {
			lastErr = err
			continue
		}
		q := e.clientFor(srv.Username, srv.Password)

		lctx, cancel := context.WithTimeout(ctx, e.studyTimeout)
		searchURL, datasets, err := q.ResolveEndpoint(lctx, base, dicomweb.Query{
			StudyInstanceUID: studyUID,
			IncludeFields:    includeFields,
		})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		merged := make(map[string]string)

		ictx, cancel := context.WithTimeout(ctx, e.detailTimeout)
		instances, ierr := q.SearchInstances(ictx, searchURL, studyUID, 1)
		cancel()
		if ierr != nil {
			log.Debug().Str("study_uid", studyUID).Err(ierr).Msg("Instance tag dump unavailable")
		} else if len(instances) > 0 {
			for tag, val := range instances[0].Flatten() {
				merged[tag] = val
			}
		}

		if len(datasets) > 0 {
			for tag, val := range datasets[0].Flatten() {
				merged[tag] = val
			}
		}
		return merged, nil
	}

	if lastErr == nil {
		lastErr = dicomweb.ErrEndpointNotFound
	}
	return nil, fmt.Errorf("no pacs answered for study %s: %w", studyUID, lastErr)
}
