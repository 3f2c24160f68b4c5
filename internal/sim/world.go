package sim

import (
	"context"
	"fmt"
	"math"

	"echo-maze/server/internal/geom"
	"echo-maze/server/logging"
	logsim "echo-maze/server/logging/simulation"
)

// World holds the authoritative state. Only the loop goroutine mutates it;
// everyone else consumes snapshots.
type World struct {
	listener Listener
	zones    []Zone
	walls    []Wall
	emitters []Emitter
	modes    Modes

	nextZoneID    uint64
	nextWallID    uint64
	nextEmitterID uint64

	tick      uint64
	publisher logging.Publisher
}

// NewWorld builds a world from the seed. Seeded entities run through the
// same clamping as live adds, so a scenario cannot place anything outside
// the playable disk.
func NewWorld(seed Seed, publisher logging.Publisher) *World {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	w := &World{
		listener:  seed.Listener,
		modes:     seed.Modes,
		publisher: publisher,
	}
	w.listener.HeadingDeg = geom.WrapDegrees(w.listener.HeadingDeg)
	w.listener.X, w.listener.Z = clampIntoWorld(w.listener.X, w.listener.Z, ListenerRadius)
	for _, zone := range seed.Zones {
		w.addZone(zone)
	}
	for _, wall := range seed.Walls {
		w.addWall(wall)
	}
	for _, emitter := range seed.Emitters {
		w.addEmitter(emitter)
	}
	return w
}

// ApplyCommands drains one tick's worth of staged commands into the world.
func (w *World) ApplyCommands(tick uint64, commands []Command) {
	w.tick = tick
	for _, cmd := range commands {
		switch cmd.Type {
		case CommandAdd:
			if cmd.Add != nil {
				w.applyAdd(*cmd.Add)
			}
		case CommandPatch:
			if cmd.Patch != nil {
				w.applyPatch(*cmd.Patch)
			}
		case CommandRemove:
			if cmd.Remove != nil {
				w.applyRemove(cmd.Remove.ID)
			}
		case CommandToggle:
			if cmd.Toggle != nil {
				w.applyToggle(*cmd.Toggle)
			}
		}
	}
}

// Step advances listener and emitter motion by dt seconds. The loop clamps
// dt before calling; intent was sampled once for this tick.
func (w *World) Step(tick uint64, dt float64, intent Intent) {
	w.tick = tick
	field := buildField(w.zones, w.walls)
	if w.modes.ListenerMotion {
		w.listener = advanceListener(w.listener, intent, dt, field)
	}
	if w.modes.EmitterMotion {
		for i := range w.emitters {
			if !w.emitters[i].Moving {
				continue
			}
			w.emitters[i] = advanceEmitter(w.emitters[i], dt, field)
		}
	}
}

// Snapshot copies the current state into an immutable value.
func (w *World) Snapshot() Snapshot {
	return Snapshot{
		Tick:     w.tick,
		Listener: w.listener,
		Zones:    append([]Zone(nil), w.zones...),
		Walls:    append([]Wall(nil), w.walls...),
		Emitters: append([]Emitter(nil), w.emitters...),
		Modes:    w.modes,
	}
}

func (w *World) applyAdd(add AddCommand) {
	spawnX, spawnZ := w.defaultSpawn()
	if add.X != nil {
		spawnX = *add.X
	}
	if add.Z != nil {
		spawnZ = *add.Z
	}
	switch add.Kind {
	case EntityZone:
		zone := Zone{Label: add.Label, X: spawnX, Z: spawnZ, Radius: DefaultZoneRadius}
		if add.Radius != nil {
			zone.Radius = *add.Radius
		}
		w.addZone(zone)
	case EntityWall:
		wall := Wall{X: spawnX, Z: spawnZ, Width: DefaultWallSide, Height: DefaultWallSide}
		if add.Width != nil {
			wall.Width = *add.Width
		}
		if add.Height != nil {
			wall.Height = *add.Height
		}
		w.addWall(wall)
	case EntityEmitter:
		emitter := Emitter{
			Name:      add.Name,
			X:         spawnX,
			Z:         spawnZ,
			Y:         DefaultElevation,
			Frequency: DefaultFrequencyHz,
			Gain:      DefaultGain,
			Waveform:  WaveformSine,
		}
		if add.Y != nil {
			emitter.Y = *add.Y
		}
		if add.Frequency != nil {
			emitter.Frequency = *add.Frequency
		}
		if add.Gain != nil {
			emitter.Gain = *add.Gain
		}
		if wave, ok := ParseWaveform(add.Waveform); ok {
			emitter.Waveform = wave
		}
		if add.Moving != nil {
			emitter.Moving = *add.Moving
		}
		if add.VX != nil {
			emitter.VX = *add.VX
		}
		if add.VZ != nil {
			emitter.VZ = *add.VZ
		}
		w.addEmitter(emitter)
	}
}

func (w *World) addZone(zone Zone) Zone {
	zone.Radius = geom.Clamp(zone.Radius, MinZoneRadius, MaxZoneRadius)
	zone.X, zone.Z = clampIntoWorld(zone.X, zone.Z, zone.Radius)
	if zone.ID == "" {
		w.nextZoneID++
		zone.ID = fmt.Sprintf("zone-%d", w.nextZoneID)
	}
	w.zones = append(w.zones, zone)
	logsim.EntityAdded(context.Background(), w.publisher, w.tick,
		logging.EntityRef{ID: zone.ID, Kind: logging.EntityKindZone},
		logsim.EntityAddedPayload{Kind: string(EntityZone), X: zone.X, Z: zone.Z}, nil)
	return zone
}

func (w *World) addWall(wall Wall) Wall {
	wall.Width = geom.Clamp(wall.Width, MinWallSide, MaxWallSide)
	wall.Height = geom.Clamp(wall.Height, MinWallSide, MaxWallSide)
	wall.X, wall.Z = clampIntoWorld(wall.X, wall.Z, wallMargin(wall))
	if wall.ID == "" {
		w.nextWallID++
		wall.ID = fmt.Sprintf("wall-%d", w.nextWallID)
	}
	w.walls = append(w.walls, wall)
	logsim.EntityAdded(context.Background(), w.publisher, w.tick,
		logging.EntityRef{ID: wall.ID, Kind: logging.EntityKindWall},
		logsim.EntityAddedPayload{Kind: string(EntityWall), X: wall.X, Z: wall.Z}, nil)
	return wall
}

func (w *World) addEmitter(emitter Emitter) Emitter {
	emitter.Frequency = geom.Clamp(emitter.Frequency, MinFrequencyHz, MaxFrequencyHz)
	emitter.Gain = geom.Clamp(emitter.Gain, MinGain, MaxGain)
	emitter.Y = geom.Clamp(emitter.Y, MinElevation, MaxElevation)
	emitter.VX = geom.Clamp(emitter.VX, -MaxEmitterSpeed, MaxEmitterSpeed)
	emitter.VZ = geom.Clamp(emitter.VZ, -MaxEmitterSpeed, MaxEmitterSpeed)
	if _, ok := ParseWaveform(string(emitter.Waveform)); !ok {
		emitter.Waveform = WaveformSine
	}
	emitter.X, emitter.Z = clampIntoWorld(emitter.X, emitter.Z, EmitterRadius)
	if emitter.ID == "" {
		w.nextEmitterID++
		emitter.ID = fmt.Sprintf("emitter-%d", w.nextEmitterID)
	}
	w.emitters = append(w.emitters, emitter)
	logsim.EntityAdded(context.Background(), w.publisher, w.tick,
		logging.EntityRef{ID: emitter.ID, Kind: logging.EntityKindEmitter},
		logsim.EntityAddedPayload{Kind: string(EntityEmitter), X: emitter.X, Z: emitter.Z}, nil)
	return emitter
}

func (w *World) applyPatch(patch PatchCommand) {
	if zone := w.findZone(patch.ID); zone != nil {
		w.patchZone(zone, patch)
		return
	}
	if wall := w.findWall(patch.ID); wall != nil {
		w.patchWall(wall, patch)
		return
	}
	if emitter := w.findEmitter(patch.ID); emitter != nil {
		w.patchEmitter(emitter, patch)
		return
	}
	logsim.PatchIgnored(context.Background(), w.publisher, w.tick,
		logging.EntityRef{ID: patch.ID, Kind: logging.EntityKindWorld},
		logsim.PatchIgnoredPayload{Field: patch.Field, Reason: "unknown id"}, nil)
}

func (w *World) patchZone(zone *Zone, patch PatchCommand) {
	switch patch.Field {
	case "label":
		zone.Label = patch.Text
	case "x":
		zone.X = patch.Value
	case "z":
		zone.Z = patch.Value
	case "radius":
		w.applyClamped(zone.ID, logging.EntityKindZone, patch.Field, patch.Value, &zone.Radius, MinZoneRadius, MaxZoneRadius)
	default:
		w.reportIgnored(zone.ID, logging.EntityKindZone, patch.Field)
		return
	}
	zone.X, zone.Z = clampIntoWorld(zone.X, zone.Z, zone.Radius)
}

func (w *World) patchWall(wall *Wall, patch PatchCommand) {
	switch patch.Field {
	case "x":
		wall.X = patch.Value
	case "z":
		wall.Z = patch.Value
	case "width":
		w.applyClamped(wall.ID, logging.EntityKindWall, patch.Field, patch.Value, &wall.Width, MinWallSide, MaxWallSide)
	case "height":
		w.applyClamped(wall.ID, logging.EntityKindWall, patch.Field, patch.Value, &wall.Height, MinWallSide, MaxWallSide)
	default:
		w.reportIgnored(wall.ID, logging.EntityKindWall, patch.Field)
		return
	}
	wall.X, wall.Z = clampIntoWorld(wall.X, wall.Z, wallMargin(*wall))
}

func (w *World) patchEmitter(emitter *Emitter, patch PatchCommand) {
	switch patch.Field {
	case "name":
		emitter.Name = patch.Text
	case "x":
		emitter.X = patch.Value
	case "z":
		emitter.Z = patch.Value
	case "y", "elevation":
		w.applyClamped(emitter.ID, logging.EntityKindEmitter, patch.Field, patch.Value, &emitter.Y, MinElevation, MaxElevation)
	case "frequency":
		w.applyClamped(emitter.ID, logging.EntityKindEmitter, patch.Field, patch.Value, &emitter.Frequency, MinFrequencyHz, MaxFrequencyHz)
	case "gain":
		w.applyClamped(emitter.ID, logging.EntityKindEmitter, patch.Field, patch.Value, &emitter.Gain, MinGain, MaxGain)
	case "vx":
		w.applyClamped(emitter.ID, logging.EntityKindEmitter, patch.Field, patch.Value, &emitter.VX, -MaxEmitterSpeed, MaxEmitterSpeed)
	case "vz":
		w.applyClamped(emitter.ID, logging.EntityKindEmitter, patch.Field, patch.Value, &emitter.VZ, -MaxEmitterSpeed, MaxEmitterSpeed)
	case "waveform":
		if wave, ok := ParseWaveform(patch.Text); ok {
			emitter.Waveform = wave
		} else {
			w.reportIgnored(emitter.ID, logging.EntityKindEmitter, patch.Field)
			return
		}
	case "moving":
		emitter.Moving = patch.Flag
	default:
		w.reportIgnored(emitter.ID, logging.EntityKindEmitter, patch.Field)
		return
	}
	emitter.X, emitter.Z = clampIntoWorld(emitter.X, emitter.Z, EmitterRadius)
}

// applyClamped writes a numeric patch value through its declared range and
// reports when clamping changed it.
func (w *World) applyClamped(id string, kind logging.EntityKind, field string, requested float64, target *float64, min, max float64) {
	applied := geom.Clamp(requested, min, max)
	*target = applied
	if applied != requested {
		logsim.PatchClamped(context.Background(), w.publisher, w.tick,
			logging.EntityRef{ID: id, Kind: kind},
			logsim.PatchClampedPayload{Field: field, Requested: requested, Applied: applied}, nil)
	}
}

func (w *World) reportIgnored(id string, kind logging.EntityKind, field string) {
	logsim.PatchIgnored(context.Background(), w.publisher, w.tick,
		logging.EntityRef{ID: id, Kind: kind},
		logsim.PatchIgnoredPayload{Field: field, Reason: "unknown field"}, nil)
}

func (w *World) applyRemove(id string) {
	for i := range w.zones {
		if w.zones[i].ID == id {
			w.zones = append(w.zones[:i], w.zones[i+1:]...)
			w.reportRemoved(id, logging.EntityKindZone, EntityZone)
			return
		}
	}
	for i := range w.walls {
		if w.walls[i].ID == id {
			w.walls = append(w.walls[:i], w.walls[i+1:]...)
			w.reportRemoved(id, logging.EntityKindWall, EntityWall)
			return
		}
	}
	for i := range w.emitters {
		if w.emitters[i].ID == id {
			w.emitters = append(w.emitters[:i], w.emitters[i+1:]...)
			w.reportRemoved(id, logging.EntityKindEmitter, EntityEmitter)
			return
		}
	}
}

func (w *World) reportRemoved(id string, kind logging.EntityKind, entity EntityKind) {
	logsim.EntityRemoved(context.Background(), w.publisher, w.tick,
		logging.EntityRef{ID: id, Kind: kind},
		logsim.EntityRemovedPayload{Kind: string(entity)}, nil)
}

func (w *World) applyToggle(toggle ToggleCommand) {
	switch toggle.Target {
	case ToggleListener:
		w.modes.ListenerMotion = toggle.Enabled
	case ToggleEmitters:
		w.modes.EmitterMotion = toggle.Enabled
	default:
		return
	}
	logsim.ModeToggled(context.Background(), w.publisher, w.tick,
		logging.EntityRef{Kind: logging.EntityKindWorld},
		logsim.ModeToggledPayload{Target: toggle.Target, Enabled: toggle.Enabled}, nil)
}

func (w *World) findZone(id string) *Zone {
	for i := range w.zones {
		if w.zones[i].ID == id {
			return &w.zones[i]
		}
	}
	return nil
}

func (w *World) findWall(id string) *Wall {
	for i := range w.walls {
		if w.walls[i].ID == id {
			return &w.walls[i]
		}
	}
	return nil
}

func (w *World) findEmitter(id string) *Emitter {
	for i := range w.emitters {
		if w.emitters[i].ID == id {
			return &w.emitters[i]
		}
	}
	return nil
}

func (w *World) defaultSpawn() (float64, float64) {
	forward := w.listener.Forward()
	return w.listener.X + forward.X*defaultSpawnAhead, w.listener.Z + forward.Z*defaultSpawnAhead
}

// clampIntoWorld pulls a center toward the origin until the shape with the
// given margin fits inside the world disk.
func clampIntoWorld(x, z, margin float64) (float64, float64) {
	limit := WorldRadius - margin
	if limit < 0 {
		limit = 0
	}
	dist := math.Hypot(x, z)
	if dist <= limit {
		return x, z
	}
	if dist == 0 {
		return 0, 0
	}
	scale := limit / dist
	return x * scale, z * scale
}

func wallMargin(wall Wall) float64 {
	return math.Hypot(wall.Width, wall.Height) / 2
}
