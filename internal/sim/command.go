package sim

import (
	"time"

	"breach-and-hold/server/internal/damage"
	"breach-and-hold/server/internal/vis"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandDamage       CommandType = "Damage"
	CommandViewer       CommandType = "Viewer"
	CommandViewerRemove CommandType = "ViewerRemove"
	CommandHeartbeat    CommandType = "Heartbeat"
	CommandReset        CommandType = "Reset"
)

// HeartbeatCommand updates connectivity metadata for an actor.
type HeartbeatCommand struct {
	ReceivedAt time.Time     `json:"receivedAt"`
	ClientSent int64         `json:"clientSent"`
	RTT        time.Duration `json:"rtt"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64            `json:"originTick"`
	ActorID    string            `json:"actorId"`
	Type       CommandType       `json:"type"`
	IssuedAt   time.Time         `json:"issuedAt"`
	Damage     *damage.Request   `json:"damage,omitempty"`
	Viewer     *vis.Viewer       `json:"viewer,omitempty"`
	Heartbeat  *HeartbeatCommand `json:"heartbeat,omitempty"`
}
