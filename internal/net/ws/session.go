package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"breach-and-hold/server/internal/net/proto"
	"breach-and-hold/server/internal/sim"
)

// session is the slice of the hub subscriber a websocket loop needs:
// direct frame writes plus the per-connection command sequence cursor.
type session interface {
	Write(data []byte) error
	LastCommandSeq() uint64
	StoreLastCommandSeq(seq uint64)
}

func (h *Handler) serve(playerID, mode string, conn *websocket.Conn) {
	sub, boot, ok := h.hub.Subscribe(playerID, conn, mode)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	sess := session(sub)

	// Hydrate the client before any deltas arrive. The hub hands back the
	// newest journaled keyframe at subscribe time.
	data, err := proto.EncodeKeyframeSnapshotV1(boot)
	if err != nil {
		h.logger.Error("encode boot keyframe",
			zap.String("player", playerID),
			zap.Error(err))
		h.hub.Disconnect(playerID)
		return
	}
	if err := sess.Write(data); err != nil {
		h.hub.Disconnect(playerID)
		return
	}
	h.hub.RecordTelemetryBroadcast(len(data), 0)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(playerID)
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Debug("discarding malformed message",
				zap.String("player", playerID),
				zap.Error(err))
			continue
		}

		if msg.Ack != nil {
			h.hub.RecordAck(playerID, *msg.Ack)
		}

		seq := uint64(0)
		if msg.CommandSeq != nil && *msg.CommandSeq > 0 {
			seq = *msg.CommandSeq
		}

		writeFrame := func(data []byte) bool {
			if err := sess.Write(data); err != nil {
				h.hub.Disconnect(playerID)
				return false
			}
			return true
		}

		sendDuplicateAck := func() bool {
			if seq == 0 {
				return true
			}
			data, err := proto.EncodeCommandAck(proto.CommandAck{Seq: seq})
			if err != nil {
				h.logger.Error("encode command ack",
					zap.String("player", playerID),
					zap.Error(err))
				return true
			}
			return writeFrame(data)
		}

		sendCommandAck := func(cmd sim.Command) bool {
			if seq == 0 {
				return true
			}
			data, err := proto.EncodeCommandAck(proto.CommandAck{Seq: seq, Tick: cmd.OriginTick})
			if err != nil {
				h.logger.Error("encode command ack",
					zap.String("player", playerID),
					zap.Error(err))
				return true
			}
			if !writeFrame(data) {
				return false
			}
			sess.StoreLastCommandSeq(seq)
			return true
		}

		sendCommandReject := func(reason string, retry bool) bool {
			if seq == 0 {
				return true
			}
			data, err := proto.EncodeCommandReject(proto.CommandReject{Seq: seq, Reason: reason, Retry: retry})
			if err != nil {
				h.logger.Error("encode command reject",
					zap.String("player", playerID),
					zap.Error(err))
				return true
			}
			return writeFrame(data)
		}

		switch msg.Type {
		case proto.TypeDamage, proto.TypeViewer:
			if seq > 0 {
				if last := sess.LastCommandSeq(); last > 0 && seq <= last {
					if !sendDuplicateAck() {
						return
					}
					continue
				}
			}
			cmd, ok, reason := h.hub.StageCommand(playerID, msg)
			if seq > 0 {
				if ok {
					if !sendCommandAck(cmd) {
						return
					}
				} else {
					retry := reason == sim.CommandRejectQueueLimit || reason == sim.CommandRejectQueueFull
					if !sendCommandReject(reason, retry) {
						return
					}
				}
			}
			if !ok {
				switch reason {
				case sim.CommandRejectInvalidAction:
					h.logger.Debug("discarding invalid command",
						zap.String("player", playerID),
						zap.String("type", msg.Type))
				case sim.CommandRejectUnknownActor:
					h.logger.Debug("command for unknown player",
						zap.String("player", playerID))
				}
			}
		case proto.TypeHeartbeat:
			now := time.Now()
			rtt, ok := h.hub.UpdateHeartbeat(playerID, now, msg.SentAt)
			if !ok {
				continue
			}

			data, err := proto.EncodeHeartbeat(proto.Heartbeat{
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt.Milliseconds(),
			})
			if err != nil {
				h.logger.Error("encode heartbeat ack",
					zap.String("player", playerID),
					zap.Error(err))
				continue
			}
			if err := sess.Write(data); err != nil {
				h.hub.Disconnect(playerID)
				return
			}
		case proto.TypeKeyframeReq:
			if msg.KeyframeSeq == nil {
				continue
			}
			snapshot, nack, ok := h.hub.HandleKeyframeRequest(playerID, *msg.KeyframeSeq)
			if !ok {
				continue
			}

			var data []byte
			if nack != nil {
				data, err = proto.EncodeKeyframeNack(nack)
			} else {
				data, err = proto.EncodeKeyframeSnapshotV1(*snapshot)
			}
			if err != nil {
				h.logger.Error("encode keyframe response",
					zap.String("player", playerID),
					zap.Error(err))
				continue
			}
			if err := sess.Write(data); err != nil {
				h.hub.Disconnect(playerID)
				return
			}
		default:
			h.logger.Debug("unknown message type",
				zap.String("player", playerID),
				zap.String("type", msg.Type))
		}
	}
}
