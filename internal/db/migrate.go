package db

import (
	"fmt"

	"gorm.io/gorm"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
	gormModels "infinite-experiment/tourdesk/internal/models/gorm"
)

// Migrate creates the booking tables. On Postgres it also installs the
// trigger that publishes row changes on the notify channel.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&gormModels.Tour{},
		&gormModels.Order{},
		&gormModels.Passenger{},
		&gormModels.SyncHistory{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	if db.Dialector.Name() != "postgres" {
		return nil
	}

	if err := db.Exec(constants.ChangeNotifyFunction).Error; err != nil {
		return fmt.Errorf("failed to install change notify function: %w", err)
	}
	for _, table := range []string{constants.TableTours, constants.TableOrders, constants.TablePassengers} {
		if err := db.Exec(fmt.Sprintf(constants.ChangeNotifyDropTrigger, table)).Error; err != nil {
			return fmt.Errorf("failed to drop change trigger on %s: %w", table, err)
		}
		if err := db.Exec(fmt.Sprintf(constants.ChangeNotifyTrigger, table)).Error; err != nil {
			return fmt.Errorf("failed to install change trigger on %s: %w", table, err)
		}
	}

	logging.Info("Change notify triggers installed", "channel", constants.ChangeChannel)
	return nil
}
