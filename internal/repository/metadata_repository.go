package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ipacx/pacs-gateway/internal/database"
	"github.com/ipacx/pacs-gateway/internal/models"
)

// metadataColumns are the fillable study_metadata columns.
var metadataColumns = []string{
	"patient_name",
	"patient_id",
	"patient_sex",
	"patient_age",
	"accession_number",
	"study_date",
	"study_description",
	"referring_physician",
	"body_part",
	"modality",
}

// MetadataRepository handles the durable study metadata cache.
type MetadataRepository struct{}

// NewMetadataRepository creates a new metadata repository
func NewMetadataRepository() *MetadataRepository {
	return &MetadataRepository{}
}

// Get returns the cached row for a study, nil when absent.
func (r *MetadataRepository) Get(ctx context.Context, studyUID string) (*models.StudyMetadata, error) {
	var meta models.StudyMetadata
	err := database.DB.WithContext(ctx).
		Where("study_instance_uid = ?", studyUID).
		First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get study metadata: %w", err)
	}
	return &meta, nil
}

// Fill upserts the row in a single atomic statement that only replaces
// columns whose existing value is empty. Concurrent resolutions of the same
// study cannot blank each other's fields.
func (r *MetadataRepository) Fill(ctx context.Context, meta *models.StudyMetadata) error {
	assignments := make(map[string]interface{}, len(metadataColumns))
	for _, col := range metadataColumns {
		assignments[col] = gorm.Expr(
			fmt.Sprintf("COALESCE(NULLIF(study_metadata.%s, ''), EXCLUDED.%s)", col, col),
		)
	}
	assignments["updated_at"] = gorm.Expr("EXCLUDED.updated_at")

	err := database.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "study_instance_uid"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(meta).Error
	if err != nil {
		return fmt.Errorf("failed to fill study metadata: %w", err)
	}
	return nil
}

// Override replaces the stored fields unconditionally. Manual corrections go
// through here and win all future merges.
func (r *MetadataRepository) Override(ctx context.Context, meta *models.StudyMetadata) error {
	updates := map[string]interface{}{}
	for col, val := range map[string]string{
		"patient_name":        meta.PatientName,
		"patient_id":          meta.PatientID,
		"patient_sex":         meta.PatientSex,
		"patient_age":         meta.PatientAge,
		"accession_number":    meta.AccessionNumber,
		"study_date":          meta.StudyDate,
		"study_description":   meta.StudyDescription,
		"referring_physician": meta.ReferringPhysician,
		"body_part":           meta.BodyPart,
		"modality":            meta.Modality,
	} {
		if val != "" {
			updates[col] = val
		}
	}
	if len(updates) == 0 {
		return nil
	}

	err := database.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "study_instance_uid"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(meta).Error
	if err != nil {
		return fmt.Errorf("failed to override study metadata: %w", err)
	}
	return nil
}
