/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strconv"
	"time"
)

// Video is one playable catalog entry: a music video or a station ident.
type Video struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Path      string `gorm:"not null"`
	Title     string `gorm:"index"`
	Artist    string `gorm:"index"`
	Year      *int
	Genre     string `gorm:"index"`
	Duration  *float64
	IsIdent   bool   `gorm:"index;default:false"`
	SourceURL string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Video) TableName() string {
	return "videos"
}

// YearString returns the release year as text, or "" when unknown.
func (v Video) YearString() string {
	if v.Year == nil || *v.Year == 0 {
		return ""
	}
	return strconv.Itoa(*v.Year)
}

// DurationSeconds returns the duration in seconds, or 0 when unknown.
func (v Video) DurationSeconds() float64 {
	if v.Duration == nil {
		return 0
	}
	return *v.Duration
}
