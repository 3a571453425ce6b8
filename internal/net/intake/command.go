// Package intake validates decoded client messages and stages them on the
// simulation loop. It sits between the transport handlers and the engine so
// both the websocket and HTTP paths share one set of rules.
package intake

import (
	"time"

	"breach-and-hold/server/internal/net/proto"
	"breach-and-hold/server/internal/sim"
)

// Engine is the slice of the simulation loop commands are staged into.
type Engine interface {
	Enqueue(sim.Command) (bool, string)
}

// CommandContext carries the collaborators StageClientCommand needs. Func
// fields keep the hub out of this package's import graph.
type CommandContext struct {
	Engine    Engine
	HasPlayer func(string) bool
	Tick      func() uint64
	Now       func() time.Time

	// DefaultFOV and DefaultRadius backfill viewer messages that omit the
	// field. Zero means no fallback, so an omitted field stays invalid.
	DefaultFOV    float64
	DefaultRadius float64
}

// StageClientCommand validates a client message, stamps it with the sender
// identity and origin tick, and enqueues it. The returned reason is empty on
// success.
func StageClientCommand(ctx CommandContext, playerID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	var zero sim.Command

	command, ok := proto.ClientCommand(msg)
	if !ok {
		return zero, false, sim.CommandRejectInvalidAction
	}

	switch command.Type {
	case sim.CommandDamage:
		if command.Damage == nil || command.Damage.Amount <= 0 {
			return zero, false, sim.CommandRejectInvalidAction
		}
		if command.Damage.Radius < 0 {
			return zero, false, sim.CommandRejectInvalidAction
		}
	case sim.CommandViewer:
		if command.Viewer == nil {
			return zero, false, sim.CommandRejectInvalidAction
		}
		if command.Viewer.FOV <= 0 {
			command.Viewer.FOV = ctx.DefaultFOV
		}
		if command.Viewer.Radius <= 0 {
			command.Viewer.Radius = ctx.DefaultRadius
		}
		if command.Viewer.FOV <= 0 || command.Viewer.Radius <= 0 {
			return zero, false, sim.CommandRejectInvalidAction
		}
	default:
		return zero, false, sim.CommandRejectInvalidAction
	}

	if ctx.HasPlayer != nil && !ctx.HasPlayer(playerID) {
		return zero, false, sim.CommandRejectUnknownActor
	}

	command.ActorID = playerID
	if command.Viewer != nil {
		command.Viewer.ID = playerID
	}
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Engine == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Engine.Enqueue(command); !ok {
		return zero, false, reason
	}

	return command, true, ""
}
