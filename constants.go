package server

import (
	"time"

	"breach-and-hold/server/internal/net/proto"
)

const (
	// ProtocolVersion pins the websocket envelope version clients must speak.
	ProtocolVersion = proto.Version

	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval

	subscriberSendQueueSize = 16

	// minKeyframeRequestInterval throttles per-subscriber keyframe recovery.
	minKeyframeRequestInterval = 500 * time.Millisecond
)

// HeartbeatInterval reports the cadence clients are expected to ping at.
func HeartbeatInterval() time.Duration { return heartbeatInterval }
