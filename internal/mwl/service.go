// Package mwl serves the Modality Worklist: scheduled orders projected into
// DICOM datasets for equipment that asks via C-FIND.
package mwl

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/ipacx/pacs-gateway/internal/models"
	"github.com/ipacx/pacs-gateway/pkg/dimse"
)

// pageSize bounds one C-FIND answer so a modality never receives an
// unbounded response storm.
const pageSize = 50

// OrderSource supplies the scheduled orders backing the worklist.
type OrderSource interface {
	ScheduledWorklist(ctx context.Context, limit int) ([]models.WorklistCandidate, error)
}

// Service answers worklist and study-root C-FIND queries from the orders
// store. It implements dimse.FindHandler.
type Service struct {
	orders    OrderSource
	stationAE string
}

// NewService creates the worklist query service. stationAE is the scheduled
// station AE title stamped into each procedure step.
func NewService(orders OrderSource, stationAE string) *Service {
	return &Service{orders: orders, stationAE: stationAE}
}

// OnFind returns one dataset per scheduled order, oldest first.
func (s *Service) OnFind(ctx context.Context, sopClassUID string, query *dimse.Dataset) ([]*dimse.Dataset, error) {
	switch sopClassUID {
	case dimse.ModalityWorklistFind, dimse.StudyRootQueryFind:
	default:
		return nil, fmt.Errorf("unsupported query model %s", sopClassUID)
	}

	candidates, err := s.orders.ScheduledWorklist(ctx, pageSize)
	if err != nil {
		return nil, fmt.Errorf("worklist query failed: %w", err)
	}

	datasets := make([]*dimse.Dataset, 0, len(candidates))
	for _, c := range candidates {
		datasets = append(datasets, s.buildDataset(c))
	}
	log.Debug().Int("entries", len(datasets)).Str("sop_class", sopClassUID).
		Msg("Worklist assembled")
	return datasets, nil
}

// buildDataset projects one order into the MWL information model: patient
// and study attributes at the top level, scheduling detail in a single
// Scheduled Procedure Step sequence item.
func (s *Service) buildDataset(c models.WorklistCandidate) *dimse.Dataset {
	ds := dimse.NewDataset()
	ds.SetString(tag.Tag{Group: 0x0008, Element: 0x0050}, "SH", c.AccessionNumber)
	ds.SetString(tag.Tag{Group: 0x0008, Element: 0x0060}, "CS", c.Modality)
	ds.SetString(tag.Tag{Group: 0x0010, Element: 0x0010}, "PN", c.PatientName)
	ds.SetString(tag.Tag{Group: 0x0010, Element: 0x0020}, "LO", c.PatientID)
	ds.SetString(tag.Tag{Group: 0x0010, Element: 0x0040}, "CS", NormalizeSex(c.PatientSex))
	ds.SetString(tag.Tag{Group: 0x0020, Element: 0x000D}, "UI", c.StudyInstanceUID)
	ds.SetString(tag.Tag{Group: 0x0032, Element: 0x1060}, "LO", c.ProcedureDescription)

	stationAE := c.StationAETitle
	if stationAE == "" {
		stationAE = s.stationAE
	}

	sps := dimse.NewDataset()
	sps.SetString(tag.Tag{Group: 0x0040, Element: 0x0001}, "AE", stationAE)
	sps.SetString(tag.Tag{Group: 0x0040, Element: 0x0002}, "DA", c.ScheduledTime.Format("20060102"))
	sps.SetString(tag.Tag{Group: 0x0040, Element: 0x0003}, "TM", c.ScheduledTime.Format("150405"))
	sps.SetString(tag.Tag{Group: 0x0008, Element: 0x0060}, "CS", c.Modality)
	sps.SetString(tag.Tag{Group: 0x0040, Element: 0x0007}, "LO", c.ProcedureDescription)
	sps.SetString(tag.Tag{Group: 0x0040, Element: 0x0009}, "SH", fmt.Sprintf("%d", c.OrderID))

	ds.SetSequence(tag.Tag{Group: 0x0040, Element: 0x0100}, []*dimse.Dataset{sps})
	return ds
}

// NormalizeSex collapses free-text gender values to the single-letter CS
// codes the DICOM data model allows.
func NormalizeSex(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "M", "MALE":
		return "M"
	case "F", "FEMALE":
		return "F"
	case "":
		return ""
	default:
		return "O"
	}
}
