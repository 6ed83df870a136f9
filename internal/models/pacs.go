package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Protocol identifies how a PACS archive is reached.
type Protocol string

const (
	ProtocolDICOMWeb Protocol = "DICOMWEB"
	ProtocolDIMSE    Protocol = "DIMSE"
)

// PACSServer is the stored identity of a remote imaging archive.
// Rows are created and edited by the admin layer; the core only reads them,
// except for the last_connected timestamp touched by connection tests.
type PACSServer struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	Protocol      Protocol  `gorm:"type:varchar(20);not null;default:'DICOMWEB'" json:"protocol"`
	Host          string    `gorm:"type:varchar(255)" json:"host"`
	Port          int       `json:"port"`
	AETitle       string    `gorm:"type:varchar(16)" json:"ae_title"`
	BaseURL       string    `gorm:"type:varchar(500)" json:"base_url"`
	Username      string    `gorm:"type:varchar(255)" json:"username,omitempty"`
	Password      string    `gorm:"type:text" json:"-"`
	IsActive      bool      `gorm:"default:true;index" json:"is_active"`
	LastConnected time.Time `json:"last_connected,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (PACSServer) TableName() string {
	return "pacs_servers"
}

// BaseCandidate returns the configured endpoint, preferring base_url over
// host:port. Exactly one of the two must resolve to something usable.
func (p *PACSServer) BaseCandidate() (string, error) {
	base := p.BaseURL
	if base == "" {
		if p.Host == "" || p.Port == 0 {
			return "", fmt.Errorf("pacs server %q has neither base_url nor host:port", p.Name)
		}
		base = fmt.Sprintf("%s:%d", p.Host, p.Port)
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/"), nil
}

// ConnectionTestRequest carries an ad-hoc configuration to probe without
// persisting it first.
type ConnectionTestRequest struct {
	Protocol Protocol `json:"protocol"`
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	AETitle  string   `json:"ae_title,omitempty"`
	BaseURL  string   `json:"base_url,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
}

// ToServer builds a transient PACSServer from the request.
func (r *ConnectionTestRequest) ToServer() PACSServer {
	return PACSServer{
		Name:     "adhoc",
		Protocol: r.Protocol,
		Host:     r.Host,
		Port:     r.Port,
		AETitle:  r.AETitle,
		BaseURL:  r.BaseURL,
		Username: r.Username,
		Password: r.Password,
	}
}

// ConnectionTestResult is the outcome of a connection test.
type ConnectionTestResult struct {
	OK          bool   `json:"ok"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	SampleCount int    `json:"sample_count,omitempty"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}
