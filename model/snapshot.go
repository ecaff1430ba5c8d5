package model

import (
	"time"

	"gorm.io/datatypes"
)

// ArenaSnapshot is a persisted copy of an arena's knowledge grid.
type ArenaSnapshot struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ArenaID   string         `gorm:"index:idx_snapshot_arena;size:64;not null" json:"arena_id"`
	Version   uint64         `gorm:"not null" json:"version"`
	Width     int            `gorm:"not null" json:"width"`
	Height    int            `gorm:"not null" json:"height"`
	Cells     datatypes.JSON `json:"cells"` // row-major cell states
	Unknown   int            `json:"unknown"`
	Free      int            `json:"free"`
	Obstacles int            `json:"obstacles"`
	CreatedAt time.Time      `gorm:"index:idx_snapshot_created;autoCreateTime:milli" json:"created_at"`
}
