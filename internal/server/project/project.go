// Package project holds the durable project records a user sees on their
// dashboard. Collaborative editing state lives with the sessions; this
// package only covers the listing and preview-image queries.
package project

import (
	"errors"
	"math"

	"gorm.io/gorm"
)

// ErrImageNotFound is returned when a preview image id has no record.
var ErrImageNotFound = errors.New("project image not found")

// Project is one entry in a user's project list. LastEdit and Created are
// Unix timestamps; ImageID refers to a ProjectImage record.
type Project struct {
	ID       uint64 `gorm:"primaryKey"`
	OwnerID  uint64 `gorm:"index;not null"`
	Title    string `gorm:"not null"`
	LastEdit uint64
	Created  uint64
	ImageID  uint64
}

// ProjectImage is a rendered preview of a project, stored as an opaque
// blob in whatever encoding the client uploaded.
type ProjectImage struct {
	ID   uint64 `gorm:"primaryKey"`
	Data []byte
}

// Migrate creates or updates the package's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Project{}, &ProjectImage{})
}

// ListByOwner returns every project owned by the user, most recently
// edited first.
func ListByOwner(db *gorm.DB, ownerID uint64) ([]Project, error) {
	var projects []Project
	err := db.Where("owner_id = ?", ownerID).
		Order("last_edit desc").
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// ListByOwnerPaged returns a window of the owner's project list using the
// same ordering as ListByOwner. Offset and count come straight off the
// wire, so values beyond the signed int range are bounded here: a negative
// Offset or Limit would tell gorm to apply no bound at all.
func ListByOwnerPaged(db *gorm.DB, ownerID, offset, count uint64) ([]Project, error) {
	if offset > math.MaxInt {
		return []Project{}, nil
	}
	if count > math.MaxInt {
		count = math.MaxInt
	}

	var projects []Project
	err := db.Where("owner_id = ?", ownerID).
		Order("last_edit desc").
		Offset(int(offset)).
		Limit(int(count)).
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// CountByOwner returns how many projects the user owns.
func CountByOwner(db *gorm.DB, ownerID uint64) (uint64, error) {
	var count int64
	err := db.Model(&Project{}).Where("owner_id = ?", ownerID).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return uint64(count), nil
}

// FindImage returns the preview image blob for the given id.
func FindImage(db *gorm.DB, imageID uint64) ([]byte, error) {
	var image ProjectImage
	err := db.First(&image, imageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	return image.Data, nil
}

// Create persists a new project record.
func Create(db *gorm.DB, p *Project) error {
	return db.Create(p).Error
}
