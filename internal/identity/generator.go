// Package identity hands out accession numbers and DICOM UIDs.
package identity

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ipacx/pacs-gateway/internal/database"
	"github.com/ipacx/pacs-gateway/internal/models"
)

// Generator issues accession numbers backed by a Postgres sequence and
// UUID-derived DICOM UIDs. Reservation rows are written best-effort; only a
// failure to obtain the sequence value itself is an error.
type Generator struct {
	db             *gorm.DB
	previewCounter atomic.Uint64
}

// NewGenerator creates a Generator on the given database handle.
func NewGenerator(db *gorm.DB) *Generator {
	return &Generator{db: db}
}

// ReserveAccession returns the next accession number formatted with the
// caller's prefix. The underlying sequence guarantees concurrent callers
// never see the same value.
func (g *Generator) ReserveAccession(ctx context.Context, prefix, reservedBy string) (string, error) {
	var next int64
	err := g.db.WithContext(ctx).
		Raw(fmt.Sprintf("SELECT nextval('%s')", database.AccessionSequence)).
		Scan(&next).Error
	if err != nil {
		return "", fmt.Errorf("accession sequence unavailable: %w", err)
	}

	accession := fmt.Sprintf("%s%06d", prefix, next)

	res := models.AccessionReservation{
		AccessionNumber: accession,
		ReservedBy:      reservedBy,
	}
	if err := g.db.WithContext(ctx).Create(&res).Error; err != nil {
		log.Warn().Str("accession", accession).Err(err).Msg("Accession reservation write failed")
	}
	return accession, nil
}

// PreviewAccession returns a cosmetic, date-stamped accession for display
// before an order is committed. Values come from an in-process counter that
// resets on restart; they are not reservations and must never be persisted
// as real accession numbers.
func (g *Generator) PreviewAccession(prefix string) string {
	n := g.previewCounter.Add(1)
	return fmt.Sprintf("%s%s-%06d", prefix, time.Now().Format("20060102"), n)
}

// ReserveUIDs returns count Study/Series/SOP UID triplets. UIDs use the 2.25
// UUID-derived root, so uniqueness needs no table check; the reservation row
// is audit only and its failure is swallowed.
func (g *Generator) ReserveUIDs(ctx context.Context, count int) []models.UIDSet {
	if count < 1 {
		count = 1
	}
	sets := make([]models.UIDSet, 0, count)
	for i := 0; i < count; i++ {
		set := models.UIDSet{
			StudyInstanceUID:  NewUID(),
			SeriesInstanceUID: NewUID(),
			SOPInstanceUID:    NewUID(),
		}
		res := models.UIDReservation{StudyInstanceUID: set.StudyInstanceUID}
		if err := g.db.WithContext(ctx).Create(&res).Error; err != nil {
			log.Warn().Str("study_uid", set.StudyInstanceUID).Err(err).
				Msg("UID reservation write failed")
		}
		sets = append(sets, set)
	}
	return sets
}

// NewUID generates one DICOM UID under the 2.25 root: the decimal rendering
// of a random 128-bit integer.
func NewUID() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	return "2.25." + n.String()
}
