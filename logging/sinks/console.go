package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"echo-maze/server/logging"
)

var severityColors = map[logging.Severity]string{
	logging.SeverityDebug: "\x1b[90m",
	logging.SeverityInfo:  "\x1b[36m",
	logging.SeverityWarn:  "\x1b[33m",
	logging.SeverityError: "\x1b[31m",
}

const colorReset = "\x1b[0m"

// Console renders one line per event for operators tailing the process.
type Console struct {
	logger *log.Logger
	color  bool
}

func NewConsole(w io.Writer, cfg logging.ConsoleConfig) *Console {
	return &Console{
		logger: log.New(w, "", log.LstdFlags),
		color:  cfg.UseColor,
	}
}

func (s *Console) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var line strings.Builder
	line.WriteString(s.level(event.Severity))
	line.WriteByte(' ')
	line.WriteString(string(event.Type))
	fmt.Fprintf(&line, " tick=%d", event.Tick)
	if actor := entityLabel(event.Actor); actor != "" {
		line.WriteString(" actor=")
		line.WriteString(actor)
	}
	if len(event.Targets) > 0 {
		labels := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			labels = append(labels, entityLabel(target))
		}
		line.WriteString(" targets=")
		line.WriteString(strings.Join(labels, ","))
	}
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			line.WriteString(" payload=")
			line.Write(data)
		} else {
			fmt.Fprintf(&line, " payload=%v", event.Payload)
		}
	}
	s.logger.Print(line.String())
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func (s *Console) level(sev logging.Severity) string {
	label := strings.ToUpper(sev.String())
	if !s.color {
		return label
	}
	code, ok := severityColors[sev]
	if !ok {
		return label
	}
	return code + label + colorReset
}

func entityLabel(ref logging.EntityRef) string {
	switch {
	case ref.ID == "" && ref.Kind == "":
		return ""
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}
