package transform

import "fmt"

// MinEvents is the shortest event log that can describe a finished game
const MinEvents = 2

// ValidationError marks a record whose conversion succeeded but whose event
// log is structurally unusable. Converting the record again yields the same
// log, so callers treat it as a permanent failure.
type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %s: invalid event log: %s", e.RecordID, e.Reason)
}

// Validate checks that a repaired sequence is a complete game
func Validate(id string, seq Sequence) error {
	if len(seq) < MinEvents {
		return &ValidationError{
			RecordID: id,
			Reason:   fmt.Sprintf("got %d events, need at least %d", len(seq), MinEvents),
		}
	}

	last, _ := seq.Last()
	if last.Type != TypeEndGame {
		return &ValidationError{
			RecordID: id,
			Reason:   fmt.Sprintf("last event is %q, want %q", last.Type, TypeEndGame),
		}
	}

	return nil
}

// Process repairs then validates the event log of one record. A log that
// cannot be repaired is reported as a ValidationError as well.
func Process(id string, seq Sequence) (Sequence, error) {
	repaired, err := Repair(seq)
	if err != nil {
		return nil, &ValidationError{RecordID: id, Reason: err.Error()}
	}
	if err := Validate(id, repaired); err != nil {
		return nil, err
	}
	return repaired, nil
}
