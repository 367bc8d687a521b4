package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// StartingScore is each seat's score at the start of a hanchan
const StartingScore = 25000

// DefaultScores is assigned to a round-start event with no preceding scores
var DefaultScores = [4]int{StartingScore, StartingScore, StartingScore, StartingScore}

// Repair fixes the score state of every start_kyoku event. The converter
// emits round starts without the running scores, so each one takes the
// scores of the event right before it, or DefaultScores if that event has
// none or the round start opens the log. kyotaku is always reset to 0;
// riichi sticks carried between rounds are not tracked.
//
// The input sequence is not modified.
func Repair(seq Sequence) (Sequence, error) {
	out := make(Sequence, len(seq))
	copy(out, seq)

	for i, ev := range seq {
		if ev.Type != TypeStartKyoku {
			continue
		}

		scores := json.RawMessage(nil)
		if i > 0 {
			prev, err := scoresOf(seq[i-1])
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i-1, err)
			}
			scores = prev
		}
		if scores == nil {
			scores = defaultScoresJSON
		}

		fixed, err := rewriteStartKyoku(ev, scores)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out[i] = fixed
	}

	return out, nil
}

var defaultScoresJSON = mustMarshal(DefaultScores)

var zeroJSON = json.RawMessage("0")

// scoresOf returns the scores field of an event, or nil if it has none
func scoresOf(ev Event) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ev.Raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid %s event: %w", ev.Type, err)
	}

	scores, ok := fields[FieldScores]
	if !ok || bytes.Equal(bytes.TrimSpace(scores), []byte("null")) {
		return nil, nil
	}
	return scores, nil
}

func rewriteStartKyoku(ev Event, scores json.RawMessage) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ev.Raw, &fields); err != nil {
		return Event{}, fmt.Errorf("invalid %s event: %w", ev.Type, err)
	}

	fields[FieldScores] = scores
	fields[FieldKyotaku] = zeroJSON

	raw, err := encodeObject(fields)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: ev.Type, Raw: raw}, nil
}

// encodeObject marshals fields with "type" first and the rest in key order,
// so rewritten lines still start with the discriminant like the converter's
func encodeObject(fields map[string]json.RawMessage) (json.RawMessage, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "type" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := fields["type"]; ok {
		keys = append([]string{"type"}, keys...)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		var value bytes.Buffer
		if err := json.Compact(&value, fields[k]); err != nil {
			return nil, fmt.Errorf("invalid value for %q: %w", k, err)
		}
		buf.Write(value.Bytes())
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
