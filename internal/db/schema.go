package db

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidID is returned for record IDs that are not safe file names
var ErrInvalidID = errors.New("db: record id is not a safe file name")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID checks that id can name work files and artifacts as is.
// Unsafe IDs are rejected rather than rewritten so two IDs never share a
// file.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// RawRecord is one archived game record as stored by the crawler.
// Payload is the bzip2-compressed mjlog XML.
type RawRecord struct {
	ID      string
	Payload []byte
}

// LogsSchema mirrors the columns of the crawler's logs table that this
// tool relies on. The crawler owns the real table; this DDL exists so
// fixtures and scratch databases have the same shape.
const LogsSchema = `
CREATE TABLE IF NOT EXISTS logs (
	id           TEXT PRIMARY KEY,
	year         INTEGER,
	log_time     TEXT,
	is_tonpusen  INTEGER DEFAULT 0,
	is_sanma     INTEGER DEFAULT 0,
	is_processed INTEGER DEFAULT 0,
	log_content  BLOB
);
`
