/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/grimnir_tv/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the catalog, history and settings schema.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Video{},
		&models.PlayoutLog{},
		&models.Setting{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
