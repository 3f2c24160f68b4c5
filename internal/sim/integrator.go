package sim

import "echo-maze/server/internal/geom"

// advanceListener applies turn and movement intent to the pose. A blocked
// move is retried along each axis alone so the listener slides instead of
// sticking; when every candidate collides the pose is unchanged.
func advanceListener(l Listener, intent Intent, dt float64, field geom.Field) Listener {
	intent = intent.Clamped()
	l.HeadingDeg = geom.WrapDegrees(l.HeadingDeg + intent.Turn*TurnSpeed*dt)

	if intent.Forward == 0 && intent.Strafe == 0 {
		return l
	}
	dir := l.Forward().Scale(intent.Forward).Add(l.Right().Scale(intent.Strafe))
	length := dir.Len()
	if length == 0 {
		return l
	}
	if length > 1 {
		dir = dir.Scale(1 / length)
	}
	step := dir.Scale(MoveSpeed * dt)
	nx := l.X + step.X
	nz := l.Z + step.Z

	switch {
	case !field.CollidesAt(nx, nz, ListenerRadius):
		l.X, l.Z = nx, nz
	case !field.CollidesAt(nx, l.Z, ListenerRadius):
		l.X = nx
	case !field.CollidesAt(l.X, nz, ListenerRadius):
		l.Z = nz
	}
	return l
}

// advanceEmitter moves one bouncer. On impact the velocity component of each
// blocked axis flips sign, preserving speed; a corner hit flips both. If the
// rebound destination still collides the emitter holds position and keeps
// the inverted velocities for the next tick.
func advanceEmitter(e Emitter, dt float64, field geom.Field) Emitter {
	nx := e.X + e.VX*dt
	nz := e.Z + e.VZ*dt
	if !field.CollidesAt(nx, nz, EmitterRadius) {
		e.X, e.Z = nx, nz
		return e
	}

	xBlocked := field.CollidesAt(nx, e.Z, EmitterRadius)
	zBlocked := field.CollidesAt(e.X, nz, EmitterRadius)
	if !xBlocked && !zBlocked {
		xBlocked, zBlocked = true, true
	}
	if xBlocked {
		e.VX = -e.VX
	}
	if zBlocked {
		e.VZ = -e.VZ
	}

	nx = e.X + e.VX*dt
	nz = e.Z + e.VZ*dt
	if !field.CollidesAt(nx, nz, EmitterRadius) {
		e.X, e.Z = nx, nz
	}
	return e
}
