package models

import "time"

// FieldSource records which resolution layer supplied a field value.
type FieldSource string

const (
	SourceNone      FieldSource = ""
	SourceCache     FieldSource = "cache"
	SourceStudy     FieldSource = "study"
	SourceSeries    FieldSource = "series"
	SourceInstance  FieldSource = "instance"
	SourceHeuristic FieldSource = "heuristic"
	SourceManual    FieldSource = "manual"
)

// StudyRecord is the unified output of the metadata resolution engine:
// best-effort demographics and study attributes for one Study Instance UID,
// with per-field provenance for diagnostics.
type StudyRecord struct {
	StudyInstanceUID   string `json:"studyInstanceUID"`
	PatientName        string `json:"patientName"`
	PatientID          string `json:"patientID"`
	PatientSex         string `json:"patientSex"`
	PatientAge         string `json:"patientAge"`
	AccessionNumber    string `json:"accessionNumber"`
	StudyDate          string `json:"studyDate"`
	StudyDescription   string `json:"studyDescription"`
	ReferringPhysician string `json:"referringPhysician"`
	BodyPart           string `json:"bodyPart"`
	Modality           string `json:"modality"`

	Provenance map[string]FieldSource `json:"provenance,omitempty"`
}

// StudyMetadata is the durable per-study cache of resolved fields.
// Once a column is non-empty it is never overwritten by a fetched value,
// only by an explicit manual override.
type StudyMetadata struct {
	StudyInstanceUID   string    `gorm:"primaryKey;type:varchar(128)" json:"study_instance_uid"`
	PatientName        string    `gorm:"type:varchar(255)" json:"patient_name"`
	PatientID          string    `gorm:"type:varchar(128)" json:"patient_id"`
	PatientSex         string    `gorm:"type:varchar(8)" json:"patient_sex"`
	PatientAge         string    `gorm:"type:varchar(8)" json:"patient_age"`
	AccessionNumber    string    `gorm:"type:varchar(64)" json:"accession_number"`
	StudyDate          string    `gorm:"type:varchar(16)" json:"study_date"`
	StudyDescription   string    `gorm:"type:varchar(255)" json:"study_description"`
	ReferringPhysician string    `gorm:"type:varchar(255)" json:"referring_physician"`
	BodyPart           string    `gorm:"type:varchar(64)" json:"body_part"`
	Modality           string    `gorm:"type:varchar(16)" json:"modality"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (StudyMetadata) TableName() string {
	return "study_metadata"
}

// Record converts the cached row to a StudyRecord with cache provenance on
// every non-empty field.
func (m *StudyMetadata) Record() *StudyRecord {
	rec := &StudyRecord{
		StudyInstanceUID:   m.StudyInstanceUID,
		PatientName:        m.PatientName,
		PatientID:          m.PatientID,
		PatientSex:         m.PatientSex,
		PatientAge:         m.PatientAge,
		AccessionNumber:    m.AccessionNumber,
		StudyDate:          m.StudyDate,
		StudyDescription:   m.StudyDescription,
		ReferringPhysician: m.ReferringPhysician,
		BodyPart:           m.BodyPart,
		Modality:           m.Modality,
		Provenance:         make(map[string]FieldSource),
	}
	for name, val := range map[string]string{
		"patientName":        m.PatientName,
		"patientID":          m.PatientID,
		"patientSex":         m.PatientSex,
		"patientAge":         m.PatientAge,
		"accessionNumber":    m.AccessionNumber,
		"studyDate":          m.StudyDate,
		"studyDescription":   m.StudyDescription,
		"referringPhysician": m.ReferringPhysician,
		"bodyPart":           m.BodyPart,
		"modality":           m.Modality,
	} {
		if val != "" {
			rec.Provenance[name] = SourceCache
		}
	}
	return rec
}
