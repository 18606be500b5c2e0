package repository

import (
	"time"

	"github.com/lomitrack/lomitrack/app/models"
	"gorm.io/gorm"
)

// deviceRepository implements the DeviceRepository interface
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new device repository instance
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Create(device *models.Device) error {
	return r.db.Create(device).Error
}

func (r *deviceRepository) GetByID(id uint) (*models.Device, error) {
	var device models.Device
	err := r.db.First(&device, id).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) GetByIMEI(imei string) (*models.Device, error) {
	var device models.Device
	err := r.db.Where("imei = ?", imei).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) ListByUserID(userID uint) ([]models.Device, error) {
	var devices []models.Device
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) List(offset, limit int) ([]models.Device, error) {
	var devices []models.Device
	err := r.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&devices).Error
	return devices, err
}

// CountActiveByUserID counts non-deleted devices for the device-limit check.
func (r *deviceRepository) CountActiveByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Device{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *deviceRepository) SoftDelete(id uint) error {
	return r.db.Delete(&models.Device{}, id).Error
}

// TouchLastSeen records position activity for a device by its
// tracking-service identifier.
func (r *deviceRepository) TouchLastSeen(externalID string) error {
	now := time.Now()
	return r.db.Model(&models.Device{}).
		Where("external_id = ?", externalID).
		Update("last_seen_at", &now).Error
}
