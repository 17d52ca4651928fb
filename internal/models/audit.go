/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited operator action.
type AuditAction string

const (
	AuditActionSceneSet         AuditAction = "scene.set"
	AuditActionFeedSwitch       AuditAction = "feed.switch"
	AuditActionFeedDeclined     AuditAction = "feed.declined"
	AuditActionStreamingStart   AuditAction = "streaming.start"
	AuditActionStreamingStop    AuditAction = "streaming.stop"
	AuditActionVolumeSet        AuditAction = "volume.set"
	AuditActionSourceReboot     AuditAction = "source.reboot"
	AuditActionPanelSettings    AuditAction = "panel.settings"
	AuditActionMusicPlay        AuditAction = "music.play"
	AuditActionMusicStop        AuditAction = "music.stop"
	AuditActionMusicSkip        AuditAction = "music.skip"
	AuditActionMusicAutoplay    AuditAction = "music.autoplay"
	AuditActionMusicEnqueue     AuditAction = "music.enqueue"
	AuditActionMusicRemoveQueue AuditAction = "music.dequeue"
)

// AuditLog records operator actions taken through the console.
type AuditLog struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	Room      string         `gorm:"type:varchar(128);index:idx_audit_room" json:"room,omitempty"`
	Action    AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	Resource  string         `gorm:"type:varchar(255)" json:"resource,omitempty"`
	Outcome   string         `gorm:"type:varchar(32)" json:"outcome,omitempty"`
	Details   map[string]any `gorm:"serializer:json" json:"details,omitempty"`
	CreatedAt time.Time      `json:"-"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
