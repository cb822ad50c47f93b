package core

import "time"

// Session describes one tracking session, from host session start to
// session end. A session spans any number of bodies and recalibrations
// but exactly one configuration epoch at a time.
type Session struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	StartTime        time.Time `json:"startTime"`
	ExtensionVersion string    `json:"extensionVersion"`
	TickRate         float64   `json:"tickRate"` // nominal ticks/sec, informational
}
