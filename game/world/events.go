package world

// UpdateEvent is published on UpdatesChannel after an observation changed an
// arena's grid.
type UpdateEvent struct {
	Type     string     `json:"type"`
	Arena    string     `json:"arena"`
	Version  uint64     `json:"version"`
	Changed  int        `json:"changed"`
	Observer [2]float64 `json:"observer"`
}

// EventArenaUpdated is the UpdateEvent type for grid changes.
const EventArenaUpdated = "arena_updated"

// UpdatesChannel is the pub/sub channel carrying UpdateEvents for arenaID.
func UpdatesChannel(arenaID string) string {
	return "arena:" + arenaID + ":updates"
}
