package repository

import (
	"context"
	"fmt"

	"github.com/ipacx/pacs-gateway/internal/database"
	"github.com/ipacx/pacs-gateway/internal/models"
)

// OrderRepository reads scheduled imaging orders for the worklist. Orders are
// owned by the scheduling layer; nothing here writes them.
type OrderRepository struct {
	stationAE string
}

// NewOrderRepository creates a new order repository. stationAE is stamped
// onto candidates that have no station of their own.
func NewOrderRepository(stationAE string) *OrderRepository {
	return &OrderRepository{stationAE: stationAE}
}

// ScheduledWorklist returns orders awaiting imaging, oldest scheduled first.
func (r *OrderRepository) ScheduledWorklist(ctx context.Context, limit int) ([]models.WorklistCandidate, error) {
	var orders []models.Order
	if err := database.DB.WithContext(ctx).
		Preload("Patient").
		Where("status IN ?", []string{models.OrderStatusScheduled, models.OrderStatusArrived}).
		Order("scheduled_time ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to query scheduled orders: %w", err)
	}

	candidates := make([]models.WorklistCandidate, 0, len(orders))
	for _, o := range orders {
		candidates = append(candidates, models.WorklistCandidate{
			OrderID:              o.ID,
			PatientID:            o.Patient.MRN,
			PatientName:          o.Patient.Name,
			PatientSex:           o.Patient.Gender,
			AccessionNumber:      o.AccessionNumber,
			Modality:             o.Modality,
			ScheduledTime:        o.ScheduledTime,
			StationAETitle:       r.stationAE,
			StudyInstanceUID:     o.StudyInstanceUID,
			ProcedureDescription: o.ProcedureDescription,
		})
	}
	return candidates, nil
}
