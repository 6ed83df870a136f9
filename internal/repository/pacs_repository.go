package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ipacx/pacs-gateway/internal/database"
	"github.com/ipacx/pacs-gateway/internal/models"
)

// PACSRepository handles PACS server configuration reads. Configurations are
// owned by the admin layer; the only write here is the last_connected touch.
type PACSRepository struct{}

// NewPACSRepository creates a new PACS repository
func NewPACSRepository() *PACSRepository {
	return &PACSRepository{}
}

// Active returns the active servers in creation order, the order in which
// the resolution engine tries them.
func (r *PACSRepository) Active(ctx context.Context) ([]models.PACSServer, error) {
	var servers []models.PACSServer
	if err := database.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to list pacs servers: %w", err)
	}
	return servers, nil
}

// GetByID returns one server, nil when absent.
func (r *PACSRepository) GetByID(ctx context.Context, id uint) (*models.PACSServer, error) {
	var server models.PACSServer
	err := database.DB.WithContext(ctx).First(&server, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pacs server %d: %w", id, err)
	}
	return &server, nil
}

// TouchLastConnected records a successful connection test.
func (r *PACSRepository) TouchLastConnected(ctx context.Context, id uint) error {
	if err := database.DB.WithContext(ctx).
		Model(&models.PACSServer{}).
		Where("id = ?", id).
		Update("last_connected", time.Now().UTC()).Error; err != nil {
		return fmt.Errorf("failed to update last_connected: %w", err)
	}
	return nil
}
