/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// Setting is one operator-tunable key/value pair.
type Setting struct {
	Key   string `gorm:"primaryKey;type:varchar(128)"`
	Value string `gorm:"type:text"`
}

// TableName returns the table name for GORM.
func (Setting) TableName() string {
	return "settings"
}

// Well-known setting keys read by the playout core.
const (
	SettingNoRepeatMinutes      = "no_repeat_minutes"
	SettingIdentIntervalMinutes = "ident_interval_minutes"
	SettingGPUEncoder           = "gpu_encoder"
	SettingDefaultResolution    = "default_resolution"
	SettingDefaultFPS           = "default_fps"
	SettingBitrateVideo         = "bitrate_video"
	SettingBitrateAudio         = "bitrate_audio"
	SettingRTMPEnabled          = "rtmp_enabled"
	SettingOutputRTMPURL        = "output_rtmp_url"
	SettingCookiesPath          = "ytd_cookies_path"
)
