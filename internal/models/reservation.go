package models

import "time"

// AccessionReservation is an append-only record of an issued accession
// number. Rows are immutable once written and never deleted; the table
// doubles as an audit trail and a collision detector.
type AccessionReservation struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AccessionNumber string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"accession_number"`
	ReservedBy      string    `gorm:"type:varchar(128)" json:"reserved_by"`
	ReservedAt      time.Time `gorm:"autoCreateTime" json:"reserved_at"`
}

// TableName overrides the table name
func (AccessionReservation) TableName() string {
	return "accession_reservations"
}

// UIDReservation is an append-only record of an issued DICOM UID.
// UUID-derived UIDs make collisions cryptographically negligible, so the row
// exists purely for audit.
type UIDReservation struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	StudyInstanceUID string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"study_instance_uid"`
	ReservedBy       string    `gorm:"type:varchar(128)" json:"reserved_by"`
	ReservedAt       time.Time `gorm:"autoCreateTime" json:"reserved_at"`
}

// TableName overrides the table name
func (UIDReservation) TableName() string {
	return "uid_reservations"
}

// UIDSet is one reserved Study/Series/SOP triplet.
type UIDSet struct {
	StudyInstanceUID  string `json:"StudyInstanceUID"`
	SeriesInstanceUID string `json:"SeriesInstanceUID"`
	SOPInstanceUID    string `json:"SOPInstanceUID"`
}
