package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"echo-maze/server"
	"echo-maze/server/internal/sim"
	"echo-maze/server/internal/telemetry"
)

type HTTPHandlerConfig struct {
	ClientDir string
	Logger    telemetry.Logger
}

type clientMessage struct {
	Ver     int             `json:"ver,omitempty"`
	Type    string          `json:"type"`
	Forward float64         `json:"forward"`
	Strafe  float64         `json:"strafe"`
	Turn    float64         `json:"turn"`
	SentAt  int64           `json:"sentAt"`
	Target  string          `json:"target"`
	Enabled bool            `json:"enabled"`
	ID      string          `json:"id"`
	Field   string          `json:"field"`
	Value   float64         `json:"value"`
	Text    string          `json:"text"`
	Flag    bool            `json:"flag"`
	Add     *sim.AddCommand `json:"add,omitempty"`
}

type heartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			Clients    any    `json:"clients"`
			TickRate   int    `json:"tickRate"`
			Heartbeat  int64  `json:"heartbeatMillis"`
			Audio      any    `json:"audio"`
			Telemetry  any    `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Clients:    hub.DiagnosticsSnapshot(),
			TickRate:   hub.TickRate(),
			Heartbeat:  server.HeartbeatInterval().Milliseconds(),
			Audio:      hub.AudioState(),
			Telemetry:  hub.TelemetrySnapshot(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		join := hub.Join()
		data, err := json.Marshal(join)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		clientID := r.URL.Query().Get("id")
		if clientID == "" {
			httpError(w, "missing id", nethttp.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("upgrade failed for %s: %v", clientID, err)
			return
		}

		sub, snapshot, ok := hub.Subscribe(clientID, conn)
		if !ok {
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown client")
			conn.WriteMessage(websocket.CloseMessage, message)
			conn.Close()
			return
		}

		data, entities, err := hub.MarshalState(snapshot)
		if err != nil {
			logger.Printf("failed to marshal initial state for %s: %v", clientID, err)
			hub.Disconnect(clientID, "write_failed")
			return
		}

		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			hub.Disconnect(clientID, "write_failed")
			return
		}
		hub.RecordTelemetryBroadcast(len(data), entities)

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				hub.Disconnect(clientID, "socket_closed")
				return
			}

			var msg clientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				logger.Printf("discarding malformed message from %s: %v", clientID, err)
				continue
			}

			switch msg.Type {
			case "input":
				if !hub.UpdateIntent(clientID, msg.Forward, msg.Strafe, msg.Turn) {
					logger.Printf("input ignored for unknown client %s", clientID)
				}
			case "heartbeat":
				now := time.Now()
				rtt, ok := hub.UpdateHeartbeat(clientID, now, msg.SentAt)
				if !ok {
					continue
				}

				ack := heartbeatMessage{
					Ver:        server.ProtocolVersion,
					Type:       "heartbeat",
					ServerTime: now.UnixMilli(),
					ClientTime: msg.SentAt,
					RTTMillis:  rtt.Milliseconds(),
				}

				data, err := json.Marshal(ack)
				if err != nil {
					logger.Printf("failed to marshal heartbeat ack for %s: %v", clientID, err)
					continue
				}

				if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
					hub.Disconnect(clientID, "write_failed")
					return
				}
			case "toggle":
				// Audio runs on the client's behalf outside the tick, so the
				// device toggle never rides the command queue.
				if msg.Target == "audio" {
					if msg.Enabled {
						if err := hub.StartAudio(); err != nil {
							logger.Printf("audio start failed for %s: %v", clientID, err)
						}
					} else {
						hub.StopAudio()
					}
					continue
				}
				cmd := sim.Command{
					Type:   sim.CommandToggle,
					Toggle: &sim.ToggleCommand{Target: msg.Target, Enabled: msg.Enabled},
				}
				if ok, reason := hub.EnqueueCommand(clientID, cmd); !ok {
					logger.Printf("toggle rejected for %s: %s", clientID, reason)
				}
			case "add":
				if msg.Add == nil {
					continue
				}
				cmd := sim.Command{Type: sim.CommandAdd, Add: msg.Add}
				if ok, reason := hub.EnqueueCommand(clientID, cmd); !ok {
					logger.Printf("add rejected for %s: %s", clientID, reason)
				}
			case "patch":
				if msg.ID == "" {
					continue
				}
				cmd := sim.Command{
					Type: sim.CommandPatch,
					Patch: &sim.PatchCommand{
						ID:    msg.ID,
						Field: msg.Field,
						Value: msg.Value,
						Text:  msg.Text,
						Flag:  msg.Flag,
					},
				}
				if ok, reason := hub.EnqueueCommand(clientID, cmd); !ok {
					logger.Printf("patch rejected for %s: %s", clientID, reason)
				}
			case "remove":
				if msg.ID == "" {
					continue
				}
				cmd := sim.Command{Type: sim.CommandRemove, Remove: &sim.RemoveCommand{ID: msg.ID}}
				if ok, reason := hub.EnqueueCommand(clientID, cmd); !ok {
					logger.Printf("remove rejected for %s: %s", clientID, reason)
				}
			default:
				logger.Printf("unknown message type %q from %s", msg.Type, clientID)
			}
		}
	})

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
