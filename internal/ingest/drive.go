package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"gorm.io/gorm"
)

// DriveResult reports one document change.
type DriveResult struct {
	Item           *models.DriveItem           `json:"item"`
	PreviousStatus string                      `json:"previous_status"`
	Changed        bool                        `json:"changed"`
	Execution      *models.AutomationExecution `json:"execution,omitempty"`
}

// HandleDriveChange refreshes the stored copy of a document and enqueues it
// when the [TAG] status of its name changed.
func (s *Service) HandleDriveChange(ctx context.Context, fileID string) (*DriveResult, error) {
	file, err := s.suite.Documents.Describe(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", fileID, err)
	}

	res := &DriveResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item := &models.DriveItem{}
		err := tx.First(item, "gid = ?", file.ID).Error
		isNew := false
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			item = &models.DriveItem{GID: file.ID, CreatedAt: s.now()}
			isNew = true
		case err != nil:
			return err
		default:
			res.PreviousStatus = item.Status
		}

		item.Name = file.Name
		item.MimeType = file.MimeType
		item.ParentGID = file.ParentID
		item.WebViewLink = file.WebViewLink
		item.Status = models.FileStatus(file.Name)
		item.UpdatedAt = s.now()

		if item.OrganizationID == nil && item.ParentGID != "" {
			var org models.Organization
			err := tx.Select("id").Where("drive_folder_gid = ?", item.ParentGID).Take(&org).Error
			if err == nil {
				item.OrganizationID = &org.ID
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		res.Item = item
		res.Changed = item.Status != res.PreviousStatus
		if isNew {
			return tx.Create(item).Error
		}
		// automation columns belong to the execution store
		return tx.Omit("automation_status", "automation_processed_at").Save(item).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store document %s: %w", fileID, err)
	}

	if !res.Changed || res.Item.Status == "" {
		log.Debug("document status unchanged", "gid", res.Item.GID, "status", res.Item.Status)
		return res, nil
	}

	log.Info("document status changed", "gid", res.Item.GID, "from", res.PreviousStatus, "to", res.Item.Status)
	res.Execution, err = s.enqueue(ctx, res.Item, ActorSystem)
	if err != nil {
		return res, err
	}
	return res, nil
}
