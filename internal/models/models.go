package models

import (
	"gorm.io/gorm"
)

// All lists every model managed by AutoMigrate.
var All = []interface{}{
	&AutomationTrigger{},
	&AutomationExecution{},
	&Email{},
	&DriveItem{},
	&Organization{},
	&OrganizationContact{},
	&Employee{},
	&Project{},
	&SidebarTask{},
	&FolderTemplate{},
	&DocumentTemplate{},
	&SyncState{},
	&PushChannel{},
	&WebappUser{},
	&PreapprovedAccount{},
	&OTPCode{},
	&UserSession{},
	&Callback{},
}

// RunningSourceIndex guarantees at most one running execution per source.
const RunningSourceIndex = "ux_automation_executions_running_source"

// Migrate applies the schema and the partial indexes AutoMigrate cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(All...); err != nil {
		return err
	}

	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS " + RunningSourceIndex +
			" ON automation_executions (trigger_source_id) WHERE status = 'running'",
	).Error
}
