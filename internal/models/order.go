package models

import "time"

// Order statuses relevant to the worklist. The orders table is owned by the
// scheduling layer; this subsystem only reads it.
const (
	OrderStatusScheduled = "SCHEDULED"
	OrderStatusArrived   = "ARRIVED"
)

// Order is the read model of a scheduled imaging order.
type Order struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	PatientID            uint      `gorm:"index" json:"patient_id"`
	AccessionNumber      string    `gorm:"type:varchar(64)" json:"accession_number"`
	StudyInstanceUID     string    `gorm:"type:varchar(128)" json:"study_instance_uid"`
	Modality             string    `gorm:"type:varchar(16)" json:"modality"`
	Status               string    `gorm:"type:varchar(32);index" json:"status"`
	ScheduledTime        time.Time `json:"scheduled_time"`
	ProcedureDescription string    `gorm:"type:varchar(255)" json:"procedure_description"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"patient"`
}

// TableName overrides the table name
func (Order) TableName() string {
	return "orders"
}

// Patient is the read model of patient demographics joined into worklist
// responses.
type Patient struct {
	ID     uint      `gorm:"primaryKey" json:"id"`
	MRN    string    `gorm:"type:varchar(64)" json:"mrn"`
	Name   string    `gorm:"type:varchar(255)" json:"name"`
	Gender string    `gorm:"type:varchar(16)" json:"gender"`
	DOB    time.Time `json:"dob"`
}

// TableName overrides the table name
func (Patient) TableName() string {
	return "patients"
}

// WorklistCandidate is a scheduled order projected into the DICOM data model
// for C-FIND responses. Derived on demand, never persisted.
type WorklistCandidate struct {
	OrderID              uint
	PatientID            string
	PatientName          string
	PatientSex           string
	AccessionNumber      string
	Modality             string
	ScheduledTime        time.Time
	StationAETitle       string
	StudyInstanceUID     string
	ProcedureDescription string
}
