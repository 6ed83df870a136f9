package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/cache"
	"github.com/ipacx/pacs-gateway/internal/dicomweb"
	"github.com/ipacx/pacs-gateway/internal/metrics"
	"github.com/ipacx/pacs-gateway/internal/models"
	"github.com/ipacx/pacs-gateway/internal/repository"
	"github.com/ipacx/pacs-gateway/internal/resolve"
	"github.com/ipacx/pacs-gateway/pkg/dimse"
)

// ErrServerNotFound is returned when a PACS id does not exist.
var ErrServerNotFound = errors.New("pacs server not found")

// PACSService fronts the resolution engine with a short-lived read-through
// cache and runs connection tests.
type PACSService struct {
	engine   *resolve.Engine
	cache    cache.Cache
	pacsRepo *repository.PACSRepository
	metaRepo *repository.MetadataRepository

	cacheTTL    time.Duration
	testTimeout time.Duration
	callingAE   string
}

// NewPACSService creates the service.
func NewPACSService(
	engine *resolve.Engine,
	c cache.Cache,
	pacsRepo *repository.PACSRepository,
	metaRepo *repository.MetadataRepository,
	cacheTTL, testTimeout time.Duration,
	callingAE string,
) *PACSService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if testTimeout <= 0 {
		testTimeout = 8 * time.Second
	}
	return &PACSService{
		engine:      engine,
		cache:       c,
		pacsRepo:    pacsRepo,
		metaRepo:    metaRepo,
		cacheTTL:    cacheTTL,
		testTimeout: testTimeout,
		callingAE:   callingAE,
	}
}

// GetStudyMeta resolves a study record, serving repeat lookups from the
// short-lived cache.
func (s *PACSService) GetStudyMeta(ctx context.Context, studyUID string) (*models.StudyRecord, error) {
	if studyUID == "" {
		return nil, fmt.Errorf("study uid is required")
	}

	key := cache.StudyKey(studyUID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var rec models.StudyRecord
		if jerr := json.Unmarshal(raw, &rec); jerr == nil {
			return &rec, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Str("study_uid", studyUID).Err(err).Msg("Study cache read failed")
	}

	rec := s.engine.Resolve(ctx, studyUID)

	if raw, err := json.Marshal(rec); err == nil {
		if cerr := s.cache.Set(ctx, key, raw, s.cacheTTL); cerr != nil {
			log.Warn().Str("study_uid", studyUID).Err(cerr).Msg("Study cache write failed")
		}
	}
	return rec, nil
}

// GetDicomTags returns the merged raw tag map for a study.
func (s *PACSService) GetDicomTags(ctx context.Context, studyUID string) (map[string]string, error) {
	if studyUID == "" {
		return nil, fmt.Errorf("study uid is required")
	}

	key := cache.TagsKey(studyUID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var tags map[string]string
		if jerr := json.Unmarshal(raw, &tags); jerr == nil {
			return tags, nil
		}
	}

	tags, err := s.engine.Tags(ctx, studyUID)
	if err != nil {
		return nil, err
	}

	if raw, merr := json.Marshal(tags); merr == nil {
		if cerr := s.cache.Set(ctx, key, raw, s.cacheTTL); cerr != nil {
			log.Warn().Str("study_uid", studyUID).Err(cerr).Msg("Tag cache write failed")
		}
	}
	return tags, nil
}

// UpdateStudyMeta applies a manual correction. Corrected fields win every
// future merge until edited again.
func (s *PACSService) UpdateStudyMeta(ctx context.Context, meta *models.StudyMetadata) error {
	if meta.StudyInstanceUID == "" {
		return fmt.Errorf("study uid is required")
	}
	if err := s.metaRepo.Override(ctx, meta); err != nil {
		return err
	}

	// Drop stale cached views; next read resolves against the fresh row.
	for _, key := range []string{cache.StudyKey(meta.StudyInstanceUID), cache.TagsKey(meta.StudyInstanceUID)} {
		if err := s.cache.Delete(ctx, key); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("Cache invalidation failed")
		}
	}
	return nil
}

// ListServers returns all configured PACS servers.
func (s *PACSService) ListServers(ctx context.Context) ([]models.PACSServer, error) {
	return s.pacsRepo.Active(ctx)
}

// GetServer returns one server config.
func (s *PACSService) GetServer(ctx context.Context, id uint) (*models.PACSServer, error) {
	server, err := s.pacsRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, ErrServerNotFound
	}
	return server, nil
}

// TestServer probes a stored configuration and records the result.
func (s *PACSService) TestServer(ctx context.Context, id uint) (*models.ConnectionTestResult, error) {
	server, err := s.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}

	result := s.TestConfig(ctx, *server)
	if recordsLastConnected(*server, result) {
		if terr := s.pacsRepo.TouchLastConnected(ctx, id); terr != nil {
			log.Warn().Uint("pacs_id", id).Err(terr).Msg("Failed to record last_connected")
		}
	}
	return result, nil
}

// recordsLastConnected reports whether a test outcome should update the
// server's last_connected timestamp. The column tracks the archive the
// resolver queries, so only a successful DICOMweb probe counts.
func recordsLastConnected(server models.PACSServer, result *models.ConnectionTestResult) bool {
	return result.OK && server.Protocol == models.ProtocolDICOMWeb
}

// TestConfig probes an ad-hoc configuration without persisting anything.
func (s *PACSService) TestConfig(ctx context.Context, server models.PACSServer) *models.ConnectionTestResult {
	start := time.Now()
	var result *models.ConnectionTestResult

	switch server.Protocol {
	case models.ProtocolDIMSE:
		result = s.testDIMSE(ctx, server)
	default:
		result = s.testDICOMWeb(ctx, server)
	}
	result.ElapsedMS = time.Since(start).Milliseconds()

	outcome := "failure"
	if result.OK {
		outcome = "success"
	}
	metrics.ConnectionTests.WithLabelValues(string(server.Protocol), outcome).Inc()
	return result
}

// testDICOMWeb probes the archive with a one-result QIDO query, separating
// credential and endpoint failures from plain unreachability.
func (s *PACSService) testDICOMWeb(ctx context.Context, server models.PACSServer) *models.ConnectionTestResult {
	base, err := server.BaseCandidate()
	if err != nil {
		return &models.ConnectionTestResult{Message: "invalid configuration", Detail: err.Error()}
	}

	tctx, cancel := context.WithTimeout(ctx, s.testTimeout)
	defer cancel()

	client := dicomweb.NewClient(server.Username, server.Password, s.testTimeout)
	_, datasets, err := client.ResolveEndpoint(tctx, base, dicomweb.Query{Limit: 1})
	switch {
	case err == nil:
		return &models.ConnectionTestResult{
			OK:          true,
			Message:     "connected",
			SampleCount: len(datasets),
		}
	case errors.Is(err, dicomweb.ErrUnauthorized):
		return &models.ConnectionTestResult{Message: "unauthorized", Detail: err.Error()}
	case errors.Is(err, dicomweb.ErrEndpointNotFound):
		return &models.ConnectionTestResult{Message: "endpoint not found", Detail: err.Error()}
	default:
		return &models.ConnectionTestResult{Message: "connection failed", Detail: err.Error()}
	}
}

// testDIMSE opens an association and exchanges a C-ECHO. The whole exchange
// runs under a hard deadline so a peer that accepts TCP but never answers
// cannot hang the caller.
func (s *PACSService) testDIMSE(ctx context.Context, server models.PACSServer) *models.ConnectionTestResult {
	tctx, cancel := context.WithTimeout(ctx, s.testTimeout)
	defer cancel()

	done := make(chan *models.ConnectionTestResult, 1)
	go func() {
		assoc, err := dimse.Connect(tctx, dimse.AssociationConfig{
			Host:       server.Host,
			Port:       server.Port,
			CallingAET: s.callingAE,
			CalledAET:  server.AETitle,
			Timeout:    s.testTimeout,
		})
		if err != nil {
			done <- &models.ConnectionTestResult{Message: "association failed", Detail: err.Error()}
			return
		}
		defer assoc.Close()

		if err := assoc.Echo(tctx); err != nil {
			done <- &models.ConnectionTestResult{Message: "echo failed", Detail: err.Error()}
			return
		}
		if err := assoc.Release(); err != nil {
			log.Debug().Err(err).Msg("Release after echo failed")
		}
		done <- &models.ConnectionTestResult{OK: true, Message: "echo succeeded"}
	}()

	select {
	case result := <-done:
		return result
	case <-tctx.Done():
		return &models.ConnectionTestResult{Message: "timed out", Detail: tctx.Err().Error()}
	}
}
