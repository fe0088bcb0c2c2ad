/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// PlayoutLog records one playout of a video. EndedAt stays nil while the
// track is on air, and forever if the push failed or the process died.
type PlayoutLog struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	VideoID  int64     `gorm:"index;not null"`
	PlayedAt time.Time `gorm:"index;not null"`
	EndedAt  *time.Time
}

// TableName returns the table name for GORM.
func (PlayoutLog) TableName() string {
	return "playout_log"
}

// Open reports whether the entry has not been closed.
func (p PlayoutLog) Open() bool {
	return p.EndedAt == nil
}
