package server

import (
	"echo-maze/server/internal/acoustics"
	"echo-maze/server/internal/sim"
)

// joinResponse seeds a new client with its identity, the session constants,
// and the latest world state.
type joinResponse struct {
	Ver             int          `json:"ver"`
	ID              string       `json:"id"`
	TickRate        int          `json:"tickRate"`
	WorldRadius     float64      `json:"worldRadius"`
	HeartbeatMillis int64        `json:"heartbeatMillis"`
	State           stateMessage `json:"state"`
}

// audioStatus mirrors the reconciler so clients can show whether sound is
// idle, active, or degraded.
type audioStatus struct {
	Status string `json:"status"`
	Units  int    `json:"units"`
}

// stateMessage is the per-tick broadcast payload. Acoustics carries the
// rendered per-emitter frequencies and gains; the raw emitter list keeps the
// authored values for editors.
type stateMessage struct {
	Ver        int                `json:"ver"`
	Type       string             `json:"type"`
	Tick       uint64             `json:"t"`
	ServerTime int64              `json:"serverTime"`
	Listener   sim.Listener       `json:"listener"`
	Zones      []sim.Zone         `json:"zones"`
	Walls      []sim.Wall         `json:"walls"`
	Emitters   []sim.Emitter      `json:"emitters"`
	Acoustics  []acoustics.Source `json:"acoustics"`
	Audio      audioStatus        `json:"audio"`
	Modes      sim.Modes          `json:"modes"`
}

type diagnosticsClient struct {
	Ver           int    `json:"ver"`
	ID            string `json:"id"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
}
