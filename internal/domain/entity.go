package domain

import (
	"time"
)

// OrderRecord mirrors one entry of the active order set in the registry so that
// other processes (the supervisor's fill monitor) can see what is resting.
type OrderRecord struct {
	LevelKey  string    `gorm:"primaryKey" json:"level_key"`
	Handle    string    `gorm:"index" json:"handle"`
	Side      string    `json:"side"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	PlacedAt  time.Time `json:"placed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RestartRecord logs one supervisor restart cycle for the current run.
type RestartRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CycleID    string    `gorm:"index" json:"cycle_id"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}
