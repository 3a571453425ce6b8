// Package proto owns the websocket wire protocol: envelope structs, type
// identifiers, and the encode/decode helpers shared by the hub and the
// session handler. Every frame carries a ver + type envelope.
package proto

import (
	"encoding/json"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"breach-and-hold/server/internal/damage"
	"breach-and-hold/server/internal/sim"
	"breach-and-hold/server/internal/vis"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for websocket payloads.
	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeHeartbeat     = "heartbeat"
	typeDelta         = "delta"
	typeVisibility    = "visibility"
	typeKeyframe      = "keyframe"
	typeKeyframeNack  = "keyframeNack"
)

// Client message type identifiers.
const (
	TypeDamage      = "damage"
	TypeViewer      = "viewer"
	TypeHeartbeat   = "heartbeat"
	TypeKeyframeReq = "keyframeRequest"
)

// Exported aliases for outbound message type identifiers.
const (
	TypeDelta        = typeDelta
	TypeVisibility   = typeVisibility
	TypeKeyframe     = typeKeyframe
	TypeKeyframeNack = typeKeyframeNack
)

// Point is the wire form of a 2D position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver         int     `json:"ver,omitempty"`
	Type        string  `json:"type" jsonschema:"title=Message type,description=Discriminator for the client payload"`
	Wall        string  `json:"wallId,omitempty" jsonschema:"description=Target wall for damage events"`
	HitOffset   float64 `json:"localHitOffset,omitempty" jsonschema:"description=Run-local impact offset in world units"`
	Amount      int     `json:"amount,omitempty"`
	Class       string  `json:"class,omitempty" jsonschema:"description=Damage shape: point or area"`
	Radius      float64 `json:"radius,omitempty" jsonschema:"description=Blast radius in slices for area damage"`
	Position    *Point  `json:"position,omitempty" jsonschema:"description=Viewer eye position"`
	Facing      float64 `json:"facing,omitempty" jsonschema:"description=Viewer facing in radians"`
	FOV         float64 `json:"fovAngle,omitempty" jsonschema:"description=Full view opening in radians"`
	SightRadius float64 `json:"sightRadius,omitempty" jsonschema:"description=Sight radius in world units"`
	SentAt      int64   `json:"sentAt,omitempty"`
	Ack         *uint64 `json:"ack,omitempty"`
	KeyframeSeq *uint64 `json:"keyframeSeq,omitempty"`
	CommandSeq  *uint64 `json:"seq,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured
// message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, errors.Wrap(err, "decode client message")
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, errors.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// ClientCommand converts an inbound message into the simulation command it
// carries. Origin metadata (actor, tick, issue time) is populated by the
// intake layer when the command is accepted.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	switch msg.Type {
	case TypeDamage:
		if msg.Wall == "" {
			return sim.Command{}, false
		}
		kind, ok := parseClass(msg.Class)
		if !ok {
			return sim.Command{}, false
		}
		return sim.Command{
			Type: sim.CommandDamage,
			Damage: &damage.Request{
				WallID: msg.Wall,
				Offset: msg.HitOffset,
				Amount: msg.Amount,
				Kind:   kind,
				Radius: msg.Radius,
			},
		}, true
	case TypeViewer:
		if msg.Position == nil {
			return sim.Command{}, false
		}
		return sim.Command{
			Type: sim.CommandViewer,
			Viewer: &vis.Viewer{
				Pos:    mgl64.Vec2{msg.Position.X, msg.Position.Y},
				Facing: msg.Facing,
				FOV:    msg.FOV,
				Radius: msg.SightRadius,
			},
		}, true
	default:
		return sim.Command{}, false
	}
}

func parseClass(value string) (damage.Kind, bool) {
	switch value {
	case "", string(damage.KindPoint):
		return damage.KindPoint, true
	case string(damage.KindArea):
		return damage.KindArea, true
	default:
		return "", false
	}
}

// CommandAck describes an acknowledgement of a processed command.
type CommandAck struct {
	Seq  uint64
	Tick uint64
}

// EncodeCommandAck renders a command acknowledgement response.
func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	frame := struct {
		Ver  int    `json:"ver"`
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
		Tick uint64 `json:"tick,omitempty"`
	}{
		Ver:  Version,
		Type: typeCommandAck,
		Seq:  msg.Seq,
	}
	if msg.Tick > 0 {
		frame.Tick = msg.Tick
	}
	return json.Marshal(frame)
}

// CommandReject notifies the client that a command was refused.
type CommandReject struct {
	Seq    uint64
	Reason string
	Retry  bool
}

// EncodeCommandReject renders a command rejection response.
func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		Reason string `json:"reason"`
		Retry  bool   `json:"retry,omitempty"`
	}{
		Ver:    Version,
		Type:   typeCommandReject,
		Seq:    msg.Seq,
		Reason: msg.Reason,
	}
	if msg.Retry {
		frame.Retry = true
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}
