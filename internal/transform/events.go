// Package transform parses, repairs and validates the mjai event log that the
// external converter produces for one game.
package transform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Event types emitted by the converter that this package cares about
const (
	TypeStartGame  = "start_game"
	TypeStartKyoku = "start_kyoku"
	TypeEndKyoku   = "end_kyoku"
	TypeHora       = "hora"
	TypeRyukyoku   = "ryukyoku"
	TypeEndGame    = "end_game"
)

// Field names rewritten on round-start events
const (
	FieldScores  = "scores"
	FieldKyotaku = "kyotaku"
)

// maxLineSize bounds a single event line. A start_kyoku with all four hands is
// well under 4 KiB; anything near this limit is garbage.
const maxLineSize = 1 << 20

// Event is one line of the event log. Raw holds the exact bytes of the line
// so events that are not rewritten pass through untouched.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Sequence is the ordered event log of a single game
type Sequence []Event

// ParseEvent decodes the type discriminant of a single line
func ParseEvent(line []byte) (Event, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return Event{}, fmt.Errorf("invalid event %q: %w", truncate(line), err)
	}
	if head.Type == nil {
		return Event{}, fmt.Errorf("event has no type: %q", truncate(line))
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	return Event{Type: *head.Type, Raw: raw}, nil
}

// ParseLines reads a line-oriented JSON event log. Blank lines are ignored.
func ParseLines(r io.Reader) (Sequence, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var seq Sequence
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := ParseEvent(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		seq = append(seq, ev)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	return seq, nil
}

// Encode writes the sequence as newline-terminated JSON lines
func (s Sequence) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, ev := range s {
		if _, err := bw.Write(ev.Raw); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Last returns the final event and false when the sequence is empty
func (s Sequence) Last() (Event, bool) {
	if len(s) == 0 {
		return Event{}, false
	}
	return s[len(s)-1], true
}

func truncate(b []byte) string {
	const limit = 80
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
