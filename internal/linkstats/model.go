package linkstats

import (
	"time"

	"gorm.io/datatypes"
)

// Event kinds stored in LinkEvent.Kind.
const (
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
)

// LatencySample is one completed round trip measured by this device.
type LatencySample struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  string    `gorm:"size:36;index"`
	Role       string    `gorm:"size:8"`
	Millis     int64     `gorm:"not null"`
	MeasuredAt time.Time `gorm:"index"`
}

// LinkEvent records a link coming up or going down.
type LinkEvent struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:36;index"`
	Role      string `gorm:"size:8"`
	Kind      string `gorm:"size:16;index"`
	Detail    datatypes.JSON
	At        time.Time `gorm:"index"`
}

// Models lists every table the store migrates.
var Models = []any{&LatencySample{}, &LinkEvent{}}

// LatencySummary aggregates the samples of one session.
type LatencySummary struct {
	Count int64
	Min   int64
	Max   int64
	Avg   float64
}
