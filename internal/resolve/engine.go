package resolve

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/dicomweb"
	"github.com/ipacx/pacs-gateway/internal/metrics"
	"github.com/ipacx/pacs-gateway/internal/models"
)

// includeFields is the fixed include-list requested on study-level queries.
var includeFields = []string{
	dicomweb.TagStudyDescription,
	dicomweb.TagModalitiesInStudy,
	dicomweb.TagBodyPartExamined,
	dicomweb.TagPatientSex,
	dicomweb.TagPatientAge,
	dicomweb.TagReferringPhysician,
}

// Querier is the slice of the DICOMweb client the engine needs.
type Querier interface {
	ResolveEndpoint(ctx context.Context, base string, q dicomweb.Query) (string, []dicomweb.Attributes, error)
	SearchSeries(ctx context.Context, searchURL, studyUID string) ([]dicomweb.Attributes, error)
	SearchInstances(ctx context.Context, searchURL, studyUID string, limit int) ([]dicomweb.Attributes, error)
	SearchSeriesInstances(ctx context.Context, searchURL, studyUID, seriesUID string, limit int) ([]dicomweb.Attributes, error)
}

// MetadataStore is the durable per-study cache.
type MetadataStore interface {
	// Get returns the cached row, or nil when the study is unknown.
	Get(ctx context.Context, studyUID string) (*models.StudyMetadata, error)
	// Fill upserts the row filling only columns that are currently empty.
	Fill(ctx context.Context, meta *models.StudyMetadata) error
}

// ServerSource lists the archives to query, in priority order.
type ServerSource interface {
	Active(ctx context.Context) ([]models.PACSServer, error)
}

// Engine assembles a best-effort study record by walking four fallback
// layers: study-level QIDO, series scan, instance dump, and a free-text
// modality heuristic. It never fails a request; missing data simply stays
// empty in the returned record.
type Engine struct {
	store   MetadataStore
	servers ServerSource

	// clientFor builds a QIDO client for one archive's credentials.
	// Swapped out in tests.
	clientFor func(username, password string) Querier

	studyTimeout  time.Duration
	detailTimeout time.Duration
}

// NewEngine creates a resolution engine. queryTimeout bounds the whole of any
// single outbound request.
func NewEngine(store MetadataStore, servers ServerSource, queryTimeout time.Duration) *Engine {
	if queryTimeout <= 0 {
		queryTimeout = 15 * time.Second
	}
	return &Engine{
		store:   store,
		servers: servers,
		clientFor: func(username, password string) Querier {
			return dicomweb.NewClient(username, password, queryTimeout)
		},
		studyTimeout:  10 * time.Second,
		detailTimeout: 8 * time.Second,
	}
}

// Resolve returns the unified record for a study. Cached fields always win
// over fetched ones; fetched fields are written back to the cache without
// blocking the caller.
func (e *Engine) Resolve(ctx context.Context, studyUID string) *models.StudyRecord {
	start := time.Now()
	defer func() {
		metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	}()

	rec := &models.StudyRecord{
		StudyInstanceUID: studyUID,
		Provenance:       make(map[string]models.FieldSource),
	}

	cached := e.loadCache(ctx, studyUID, rec)
	if cached && complete(rec) {
		metrics.ResolveLayer.WithLabelValues("cache").Inc()
		return rec
	}

	deepest := e.fetch(ctx, studyUID, rec)
	metrics.ResolveLayer.WithLabelValues(deepest).Inc()

	e.writeBack(rec)
	return rec
}

// loadCache merges the cached row into rec and reports whether a row existed.
func (e *Engine) loadCache(ctx context.Context, studyUID string, rec *models.StudyRecord) bool {
	meta, err := e.store.Get(ctx, studyUID)
	if err != nil {
		log.Warn().Str("study_uid", studyUID).Err(err).Msg("Metadata cache read failed")
		return false
	}
	if meta == nil {
		return false
	}
	cachedRec := meta.Record()
	fill(rec, "patientName", cachedRec.PatientName, models.SourceCache)
	fill(rec, "patientID", cachedRec.PatientID, models.SourceCache)
	fill(rec, "patientSex", cachedRec.PatientSex, models.SourceCache)
	fill(rec, "patientAge", cachedRec.PatientAge, models.SourceCache)
	fill(rec, "accessionNumber", cachedRec.AccessionNumber, models.SourceCache)
	fill(rec, "studyDate", cachedRec.StudyDate, models.SourceCache)
	fill(rec, "studyDescription", cachedRec.StudyDescription, models.SourceCache)
	fill(rec, "referringPhysician", cachedRec.ReferringPhysician, models.SourceCache)
	fill(rec, "bodyPart", cachedRec.BodyPart, models.SourceCache)
	fill(rec, "modality", cachedRec.Modality, models.SourceCache)
	return true
}

// fetch walks the four layers against the first archive whose study query
// answers, returning the name of the deepest layer that ran.
func (e *Engine) fetch(ctx context.Context, studyUID string, rec *models.StudyRecord) string {
	servers, err := e.servers.Active(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Cannot list PACS servers")
		return "none"
	}

	for _, srv := range servers {
		if srv.Protocol != models.ProtocolDICOMWeb {
			continue
		}
		base, err := srv.BaseCandidate()
		if err != nil {
			log.Warn().Str("pacs", srv.Name).Err(err).Msg("Unusable PACS configuration")
			continue
		}

		q := e.clientFor(srv.Username, srv.Password)
		searchURL, ok := e.layerStudy(ctx, q, base, studyUID, rec)
		if !ok {
			continue
		}

		deepest := "study"
		if e.needSeriesScan(rec) {
			e.layerSeries(ctx, q, searchURL, studyUID, rec)
			deepest = "series"
		}
		if e.needInstanceDump(rec) {
			e.layerInstance(ctx, q, searchURL, studyUID, rec)
			deepest = "instance"
		}
		if e.applyHeuristic(rec) {
			deepest = "heuristic"
		}
		return deepest
	}

	// No archive answered; the heuristic can still run on cached text.
	if e.applyHeuristic(rec) {
		return "heuristic"
	}
	return "none"
}

func (e *Engine) layerStudy(ctx context.Context, q Querier, base, studyUID string, rec *models.StudyRecord) (string, bool) {
	lctx, cancel := context.WithTimeout(ctx, e.studyTimeout)
	defer cancel()

	searchURL, datasets, err := q.ResolveEndpoint(lctx, base, dicomweb.Query{
		StudyInstanceUID: studyUID,
		IncludeFields:    includeFields,
	})
	if err != nil {
		log.Warn().Str("study_uid", studyUID).Str("base", base).Err(err).Msg("Study query failed")
		return "", false
	}
	if len(datasets) > 0 {
		applyAttributes(rec, datasets[0], models.SourceStudy)
	}
	return searchURL, true
}

func (e *Engine) layerSeries(ctx context.Context, q Querier, searchURL, studyUID string, rec *models.StudyRecord) {
	lctx, cancel := context.WithTimeout(ctx, e.detailTimeout)
	defer cancel()

	series, err := q.SearchSeries(lctx, searchURL, studyUID)
	if err != nil {
		log.Warn().Str("study_uid", studyUID).Err(err).Msg("Series scan failed")
		return
	}

	for _, s := range series {
		if IsStrongModality(s.String(dicomweb.TagModality)) {
			applyAttributes(rec, s, models.SourceSeries)
			return
		}
	}
	if len(series) > 0 {
		applyAttributes(rec, series[0], models.SourceSeries)
	}
}

func (e *Engine) layerInstance(ctx context.Context, q Querier, searchURL, studyUID string, rec *models.StudyRecord) {
	lctx, cancel := context.WithTimeout(ctx, e.detailTimeout)
	defer cancel()

	instances, err := q.SearchInstances(lctx, searchURL, studyUID, 1)
	if err != nil || len(instances) == 0 {
		// Some archives only serve instances below a series resource.
		series, serr := q.SearchSeries(lctx, searchURL, studyUID)
		if serr != nil || len(series) == 0 {
			log.Warn().Str("study_uid", studyUID).AnErr("instances", err).AnErr("series", serr).
				Msg("Instance dump failed")
			return
		}
		seriesUID := series[0].String(dicomweb.TagSeriesInstanceUID)
		instances, err = q.SearchSeriesInstances(lctx, searchURL, studyUID, seriesUID, 1)
		if err != nil || len(instances) == 0 {
			log.Warn().Str("study_uid", studyUID).Err(err).Msg("Instance dump failed")
			return
		}
	}
	applyAttributes(rec, instances[0], models.SourceInstance)
}

// applyHeuristic guesses the modality from the study description when nothing
// stronger was found. Reports whether it changed the record.
func (e *Engine) applyHeuristic(rec *models.StudyRecord) bool {
	if IsStrongModality(rec.Modality) {
		return false
	}
	guess := GuessModality(rec.StudyDescription)
	if guess == "" {
		return false
	}
	rec.Modality = guess
	rec.Provenance["modality"] = models.SourceHeuristic
	return true
}

func (e *Engine) needSeriesScan(rec *models.StudyRecord) bool {
	return rec.Modality == "" || !IsStrongModality(rec.Modality) ||
		rec.BodyPart == "" || rec.PatientID == "" ||
		rec.AccessionNumber == "" || rec.ReferringPhysician == ""
}

func (e *Engine) needInstanceDump(rec *models.StudyRecord) bool {
	return rec.PatientID == "" || rec.PatientName == "" ||
		rec.AccessionNumber == "" || !IsStrongModality(rec.Modality)
}

// writeBack persists freshly fetched fields without blocking the caller.
// The store only fills empty columns, so cached corrections survive.
func (e *Engine) writeBack(rec *models.StudyRecord) {
	meta := &models.StudyMetadata{StudyInstanceUID: rec.StudyInstanceUID}
	fresh := false
	for name, src := range rec.Provenance {
		if src == models.SourceCache {
			continue
		}
		fresh = true
		switch name {
		case "patientName":
			meta.PatientName = rec.PatientName
		case "patientID":
			meta.PatientID = rec.PatientID
		case "patientSex":
			meta.PatientSex = rec.PatientSex
		case "patientAge":
			meta.PatientAge = rec.PatientAge
		case "accessionNumber":
			meta.AccessionNumber = rec.AccessionNumber
		case "studyDate":
			meta.StudyDate = rec.StudyDate
		case "studyDescription":
			meta.StudyDescription = rec.StudyDescription
		case "referringPhysician":
			meta.ReferringPhysician = rec.ReferringPhysician
		case "bodyPart":
			meta.BodyPart = rec.BodyPart
		case "modality":
			meta.Modality = rec.Modality
		}
	}
	if !fresh {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Fill(ctx, meta); err != nil {
			log.Warn().Str("study_uid", meta.StudyInstanceUID).Err(err).
				Msg("Metadata cache write failed")
		}
	}()
}

// applyAttributes fills the record from one dataset. Established values stay
// put, except a weak modality which a strong one may replace.
func applyAttributes(rec *models.StudyRecord, attrs dicomweb.Attributes, src models.FieldSource) {
	rawName := attrs.String(dicomweb.TagPatientName)
	fill(rec, "patientName", CleanPersonName(rawName), src)
	if age, sex := ExtractEmbeddedDemographics(rawName); age != "" {
		fill(rec, "patientAge", age, src)
		fill(rec, "patientSex", sex, src)
	}

	fill(rec, "patientID", attrs.String(dicomweb.TagPatientID), src)
	fill(rec, "patientSex", attrs.String(dicomweb.TagPatientSex), src)
	fill(rec, "patientAge", attrs.String(dicomweb.TagPatientAge), src)
	fill(rec, "accessionNumber", attrs.String(dicomweb.TagAccessionNumber), src)
	fill(rec, "studyDate", attrs.String(dicomweb.TagStudyDate), src)
	fill(rec, "studyDescription", attrs.String(dicomweb.TagStudyDescription), src)
	fill(rec, "referringPhysician", CleanPersonName(attrs.String(dicomweb.TagReferringPhysician)), src)
	fill(rec, "bodyPart", attrs.String(dicomweb.TagBodyPartExamined), src)

	fillModality(rec, attrs, src)
}

func fillModality(rec *models.StudyRecord, attrs dicomweb.Attributes, src models.FieldSource) {
	candidate := pickStrongModality(attrs.Strings(dicomweb.TagModalitiesInStudy))
	if candidate == "" {
		candidate = strings.ToUpper(strings.TrimSpace(attrs.String(dicomweb.TagModality)))
	}
	if candidate == "" {
		if vals := attrs.Strings(dicomweb.TagModalitiesInStudy); len(vals) > 0 {
			candidate = strings.ToUpper(strings.TrimSpace(vals[0]))
		}
	}
	if candidate == "" {
		return
	}
	switch {
	case rec.Modality == "":
		rec.Modality = candidate
		rec.Provenance["modality"] = src
	case !IsStrongModality(rec.Modality) && IsStrongModality(candidate):
		// Weak to strong upgrade, the one allowed overwrite.
		rec.Modality = candidate
		rec.Provenance["modality"] = src
	}
}

// fill sets a field only when it is still empty.
func fill(rec *models.StudyRecord, name, value string, src models.FieldSource) {
	if value == "" {
		return
	}
	switch name {
	case "patientName":
		if rec.PatientName != "" {
			return
		}
		rec.PatientName = value
	case "patientID":
		if rec.PatientID != "" {
			return
		}
		rec.PatientID = value
	case "patientSex":
		if rec.PatientSex != "" {
			return
		}
		rec.PatientSex = value
	case "patientAge":
		if rec.PatientAge != "" {
			return
		}
		rec.PatientAge = value
	case "accessionNumber":
		if rec.AccessionNumber != "" {
			return
		}
		rec.AccessionNumber = value
	case "studyDate":
		if rec.StudyDate != "" {
			return
		}
		rec.StudyDate = value
	case "studyDescription":
		if rec.StudyDescription != "" {
			return
		}
		rec.StudyDescription = value
	case "referringPhysician":
		if rec.ReferringPhysician != "" {
			return
		}
		rec.ReferringPhysician = value
	case "bodyPart":
		if rec.BodyPart != "" {
			return
		}
		rec.BodyPart = value
	case "modality":
		if rec.Modality != "" {
			return
		}
		rec.Modality = value
	default:
		return
	}
	rec.Provenance[name] = src
}

// complete reports whether every field a caller cares about is populated with
// a usable value.
func complete(rec *models.StudyRecord) bool {
	return rec.PatientName != "" && rec.PatientID != "" &&
		rec.PatientSex != "" && rec.AccessionNumber != "" &&
		rec.StudyDate != "" && IsStrongModality(rec.Modality) &&
		rec.BodyPart != "" && rec.ReferringPhysician != ""
}
