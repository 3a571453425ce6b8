package proto

import (
	"encoding/json"
	"sort"

	"breach-and-hold/server/internal/geom"
	"breach-and-hold/server/internal/ledger"
	"breach-and-hold/server/internal/vis"
)

// Visibility wire modes.
const (
	ModePolygon = "polygon"
	ModeTiles   = "tiles"
)

// WirePuncture is the wire form of a slice puncture.
type WirePuncture struct {
	Offset   float64 `json:"offsetAlongWall"`
	Aperture float64 `json:"apertureRadians"`
	Depth    float64 `json:"depth,omitempty"`
}

// WireSliceDelta is the wire form of one slice transition.
type WireSliceDelta struct {
	WallID    string        `json:"wallId"`
	Slice     int           `json:"sliceIndex"`
	NewHealth int           `json:"newHealth"`
	Destroyed bool          `json:"destroyed"`
	Puncture  *WirePuncture `json:"puncture,omitempty"`
	Seq       uint64        `json:"seq"`
	Tick      uint64        `json:"t,omitempty"`
}

// WireSlice is the wire form of one slice's full state.
type WireSlice struct {
	Health    int           `json:"health"`
	Destroyed bool          `json:"destroyed"`
	Puncture  *WirePuncture `json:"puncture,omitempty"`
}

// WireWallState is the wire form of one wall's destruction state.
type WireWallState struct {
	WallID    string      `json:"wallId"`
	Seq       uint64      `json:"seq"`
	MaxHealth int         `json:"maxHealth"`
	Slices    []WireSlice `json:"slices"`
}

// WireCone is the wire form of a puncture sight cone.
type WireCone struct {
	Apex     Point   `json:"apex"`
	Dir      float64 `json:"direction"`
	Aperture float64 `json:"apertureRadians"`
	Length   float64 `json:"length"`
}

// WallSpec is the static geometry sent once in the join response.
type WallSpec struct {
	ID       string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Material string  `json:"material,omitempty"`
}

// ConfigEcho mirrors the deployment constants clients must agree on.
type ConfigEcho struct {
	TickRate          int     `json:"tickRate"`
	BroadcastInterval int     `json:"broadcastIntervalTicks"`
	KeyframeInterval  int     `json:"keyframeInterval"`
	SliceCount        int     `json:"sliceCount"`
	GridCellSize      float64 `json:"gridCellSize,omitempty"`
	GridWidth         int     `json:"gridWidth,omitempty"`
	GridHeight        int     `json:"gridHeight,omitempty"`
}

// WirePunctureFrom converts a ledger puncture for transmission.
func WirePunctureFrom(p *ledger.Puncture) *WirePuncture {
	if p == nil {
		return nil
	}
	return &WirePuncture{Offset: p.Offset, Aperture: p.Aperture, Depth: p.Depth}
}

// WireDeltas converts staged ledger deltas for transmission.
func WireDeltas(deltas []ledger.SliceDelta) []WireSliceDelta {
	if len(deltas) == 0 {
		return nil
	}
	out := make([]WireSliceDelta, len(deltas))
	for i, d := range deltas {
		out[i] = WireSliceDelta{
			WallID:    d.WallID,
			Slice:     d.Slice,
			NewHealth: d.NewHealth,
			Destroyed: d.Destroyed,
			Puncture:  WirePunctureFrom(d.Puncture),
			Seq:       d.Seq,
			Tick:      d.Tick,
		}
	}
	return out
}

// WireWalls converts a full ledger snapshot for transmission, ordered by
// wall id so repeated keyframes of the same state are byte-identical.
func WireWalls(snap ledger.Snapshot) []WireWallState {
	if len(snap) == 0 {
		return nil
	}
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]WireWallState, 0, len(ids))
	for _, id := range ids {
		ws := snap[id]
		slices := make([]WireSlice, len(ws.Slices))
		for i, s := range ws.Slices {
			slices[i] = WireSlice{
				Health:    s.Health,
				Destroyed: s.Destroyed,
				Puncture:  WirePunctureFrom(s.Puncture),
			}
		}
		out = append(out, WireWallState{
			WallID:    id,
			Seq:       ws.Seq,
			MaxHealth: ws.MaxHealth,
			Slices:    slices,
		})
	}
	return out
}

// WallSpecs converts the immutable arena geometry for the join response.
func WallSpecs(walls []*geom.Wall) []WallSpec {
	if len(walls) == 0 {
		return nil
	}
	out := make([]WallSpec, 0, len(walls))
	for _, w := range walls {
		if w == nil {
			continue
		}
		out = append(out, WallSpec{
			ID:       w.ID,
			X:        w.Min.X(),
			Y:        w.Min.Y(),
			Width:    w.Size.X(),
			Height:   w.Size.Y(),
			Material: w.Material,
		})
	}
	return out
}

// DeltaBatchV1 captures the version 1 delta broadcast payload layout.
type DeltaBatchV1 struct {
	Ver         int              `json:"ver"`
	Type        string           `json:"type"`
	Tick        uint64           `json:"t"`
	Sequence    uint64           `json:"sequence"`
	KeyframeSeq uint64           `json:"keyframeSeq,omitempty"`
	ServerTime  int64            `json:"serverTime"`
	Deltas      []WireSliceDelta `json:"deltas"`
}

// ProtoDeltaBatch tags the struct as a websocket delta payload.
func (DeltaBatchV1) ProtoDeltaBatch() {}

type deltaBatch interface {
	ProtoDeltaBatch()
}

// EncodeDeltaBatch renders a delta broadcast payload.
func EncodeDeltaBatch(msg deltaBatch) ([]byte, error) {
	switch payload := msg.(type) {
	case DeltaBatchV1:
		return EncodeDeltaBatchV1(payload)
	case *DeltaBatchV1:
		if payload == nil {
			return json.Marshal(payload)
		}
		return EncodeDeltaBatchV1(*payload)
	default:
		return json.Marshal(msg)
	}
}

// EncodeDeltaBatchV1 renders a versioned delta broadcast payload.
func EncodeDeltaBatchV1(msg DeltaBatchV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeDelta
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// VisibilityV1 captures the version 1 visibility payload layout. Mode
// selects between the authoritative polygon shape and the legacy sparse
// tile-index shape.
type VisibilityV1 struct {
	Ver           int        `json:"ver"`
	Type          string     `json:"type"`
	Tick          uint64     `json:"t"`
	Mode          string     `json:"mode" jsonschema:"description=polygon or tiles"`
	Position      Point      `json:"position"`
	ViewDirection float64    `json:"viewDirection"`
	ViewAngle     float64    `json:"viewAngle"`
	ViewDistance  float64    `json:"viewDistance"`
	Polygon       []Point    `json:"polygon,omitempty"`
	Cones         []WireCone `json:"cones,omitempty"`
	Indices       []int      `json:"indices,omitempty"`
	Degenerate    bool       `json:"degenerate,omitempty"`
}

// ProtoVisibility tags the struct as a websocket visibility payload.
func (VisibilityV1) ProtoVisibility() {}

type visibility interface {
	ProtoVisibility()
}

// EncodeVisibility renders a visibility payload.
func EncodeVisibility(msg visibility) ([]byte, error) {
	switch payload := msg.(type) {
	case VisibilityV1:
		return EncodeVisibilityV1(payload)
	case *VisibilityV1:
		if payload == nil {
			return json.Marshal(payload)
		}
		return EncodeVisibilityV1(*payload)
	default:
		return json.Marshal(msg)
	}
}

// EncodeVisibilityV1 renders a versioned visibility payload.
func EncodeVisibilityV1(msg VisibilityV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeVisibility
	}
	if msg.Mode == "" {
		msg.Mode = ModePolygon
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// VisibilityFromRegion converts a computed region into the polygon wire
// shape.
func VisibilityFromRegion(r vis.Region, tick uint64) VisibilityV1 {
	msg := VisibilityV1{
		Type:          TypeVisibility,
		Tick:          tick,
		Mode:          ModePolygon,
		Position:      Point{X: r.Pos.X(), Y: r.Pos.Y()},
		ViewDirection: r.Facing,
		ViewAngle:     r.FOV,
		ViewDistance:  r.Radius,
		Degenerate:    r.Degenerate,
	}
	if len(r.Polygon) > 0 {
		msg.Polygon = make([]Point, len(r.Polygon))
		for i, p := range r.Polygon {
			msg.Polygon[i] = Point{X: p.X(), Y: p.Y()}
		}
	}
	if len(r.Cones) > 0 {
		msg.Cones = make([]WireCone, len(r.Cones))
		for i, c := range r.Cones {
			msg.Cones[i] = WireCone{
				Apex:     Point{X: c.Apex.X(), Y: c.Apex.Y()},
				Dir:      c.Dir,
				Aperture: c.Aperture,
				Length:   c.Length,
			}
		}
	}
	return msg
}

// VisibilityTilesFromRegion converts a computed region into the legacy
// sparse tile shape for the given deployment grid.
func VisibilityTilesFromRegion(r vis.Region, grid vis.Grid, tick uint64) VisibilityV1 {
	return VisibilityV1{
		Type:          TypeVisibility,
		Tick:          tick,
		Mode:          ModeTiles,
		Position:      Point{X: r.Pos.X(), Y: r.Pos.Y()},
		ViewDirection: r.Facing,
		ViewAngle:     r.FOV,
		ViewDistance:  r.Radius,
		Indices:       vis.Quantize(r, grid),
		Degenerate:    r.Degenerate,
	}
}

// KeyframeSnapshotV1 captures the version 1 keyframe payload layout.
type KeyframeSnapshotV1 struct {
	Ver      int             `json:"ver"`
	Type     string          `json:"type"`
	Sequence uint64          `json:"sequence"`
	Tick     uint64          `json:"t"`
	Walls    []WireWallState `json:"walls"`
}

// ProtoKeyframeSnapshot tags the struct as a websocket keyframe payload.
func (KeyframeSnapshotV1) ProtoKeyframeSnapshot() {}

type keyframeSnapshot interface {
	ProtoKeyframeSnapshot()
}

// EncodeKeyframeSnapshot renders a keyframe payload.
func EncodeKeyframeSnapshot(msg keyframeSnapshot) ([]byte, error) {
	switch payload := msg.(type) {
	case KeyframeSnapshotV1:
		return EncodeKeyframeSnapshotV1(payload)
	case *KeyframeSnapshotV1:
		if payload == nil {
			return json.Marshal(payload)
		}
		return EncodeKeyframeSnapshotV1(*payload)
	default:
		return json.Marshal(msg)
	}
}

// EncodeKeyframeSnapshotV1 renders a versioned keyframe payload.
func EncodeKeyframeSnapshotV1(msg KeyframeSnapshotV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeKeyframe
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// KeyframeNackV1 tells a client its requested keyframe left the journal.
type KeyframeNackV1 struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`
	Reason   string `json:"reason"`
	Resync   bool   `json:"resync,omitempty"`
}

// ProtoKeyframeNack tags the struct as a websocket keyframe nack payload.
func (*KeyframeNackV1) ProtoKeyframeNack() {}

type keyframeNack interface {
	ProtoKeyframeNack()
}

// EncodeKeyframeNack renders a keyframe nack payload.
func EncodeKeyframeNack(msg keyframeNack) ([]byte, error) {
	if payload, ok := msg.(*KeyframeNackV1); ok && payload != nil {
		if payload.Type == "" {
			payload.Type = TypeKeyframeNack
		}
		payload.Ver = Version
	}
	return json.Marshal(msg)
}

// JoinResponseV1 captures the version 1 join response layout.
type JoinResponseV1 struct {
	Ver              int                `json:"ver"`
	ID               string             `json:"id"`
	Walls            []WallSpec         `json:"walls"`
	MaterialsHash    string             `json:"materialsHash,omitempty"`
	Keyframe         KeyframeSnapshotV1 `json:"keyframe"`
	Config           ConfigEcho         `json:"config"`
	KeyframeInterval int                `json:"keyframeInterval,omitempty"`
	Resync           bool               `json:"resync"`
}

// ProtoJoinResponse tags the struct as a join response payload.
func (JoinResponseV1) ProtoJoinResponse() {}

type joinResponse interface {
	ProtoJoinResponse()
}

// EncodeJoinResponse renders a join response payload.
func EncodeJoinResponse(msg joinResponse) ([]byte, error) {
	switch payload := msg.(type) {
	case JoinResponseV1:
		return EncodeJoinResponseV1(payload)
	case *JoinResponseV1:
		if payload == nil {
			return json.Marshal(payload)
		}
		return EncodeJoinResponseV1(*payload)
	default:
		return json.Marshal(msg)
	}
}

// EncodeJoinResponseV1 renders a versioned join response payload.
func EncodeJoinResponseV1(msg JoinResponseV1) ([]byte, error) {
	msg.Ver = Version
	return json.Marshal(msg)
}
