package model

import (
	"time"

	"gorm.io/datatypes"
)

// Route outcomes.
const (
	RouteOK          = "ok"
	RouteArrived     = "arrived"
	RouteUnreachable = "unreachable"
	RouteNoPath      = "no_path"
)

// RouteRecord is one planning request served by the debug API.
type RouteRecord struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_route_trace;size:36;not null" json:"trace_id"`
	ArenaID    string         `gorm:"index:idx_route_arena;size:64;not null" json:"arena_id"`
	FromX      float64        `json:"from_x"`
	FromY      float64        `json:"from_y"`
	ToX        float64        `json:"to_x"`
	ToY        float64        `json:"to_y"`
	Outcome    string         `gorm:"size:16;not null" json:"outcome"`
	Waypoints  datatypes.JSON `json:"waypoints"`
	Expanded   int            `json:"expanded"`
	Cost       float64        `json:"cost"`
	Error      string         `gorm:"type:text" json:"error"`
	IP         string         `gorm:"size:45" json:"ip"`
	DurationUs int64          `json:"duration_us"`
	CreatedAt  time.Time      `gorm:"index:idx_route_created;autoCreateTime:milli" json:"created_at"`
}
