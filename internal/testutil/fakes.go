package testutil

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/livinlefevreloca/mjlogconv/internal/sink"
	"github.com/livinlefevreloca/mjlogconv/internal/transform"
)

// bzip2 payloads as the crawler stores them
const (
	fourPlayerHex  = "425a68393141592653597fb31fc500000d1f805001f927208182001297d5202000486a9e901ea36a7a20f5346108936a60344c1326430961e3e06b72121852910458440b3513a328b9ecce9ca96bc4c189d004165cfe694840b5b1772453850907fb31fc50"
	threePlayerHex = "425a6839314159265359943f717500000d1f805001fa47208182001297d5202000486a9e901ea1ea6d20d34794d08936a60344c1326430a2bde8a71b1090c44a84115640566e9c994a1ace706a3d6d0c0c338082cb9fcd290816b62ee48a70a121287ee2ea"
)

// FourPlayerPayload returns a compressed record that passes the game filter
func FourPlayerPayload() []byte { return mustHex(fourPlayerHex) }

// ThreePlayerPayload returns a compressed record the game filter rejects
func ThreePlayerPayload() []byte { return mustHex(threePlayerHex) }

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// GameLines is a minimal complete event log
var GameLines = []string{
	`{"type":"start_game","names":["A","B","C","D"]}`,
	`{"type":"start_kyoku","bakaze":"E","kyoku":1,"honba":0,"kyotaku":0,"oya":0}`,
	`{"type":"ryukyoku","deltas":[0,0,0,0],"scores":[25000,25000,25000,25000]}`,
	`{"type":"end_kyoku"}`,
	`{"type":"end_game"}`,
}

// Sequence parses lines into an event log, panicking on bad input
func Sequence(lines ...string) transform.Sequence {
	seq, err := transform.ParseLines(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil {
		panic(err)
	}
	return seq
}

// FakeConverter returns canned results per record ID. IDs without a canned
// result convert to GameLines.
type FakeConverter struct {
	mu      sync.Mutex
	results map[string]fakeResult
	calls   map[string]int
	delay   time.Duration
}

type fakeResult struct {
	seq   transform.Sequence
	err   error
	panic bool
}

func NewFakeConverter() *FakeConverter {
	return &FakeConverter{
		results: make(map[string]fakeResult),
		calls:   make(map[string]int),
	}
}

// SetResult makes id convert to the given lines
func (f *FakeConverter) SetResult(id string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = fakeResult{seq: Sequence(lines...)}
}

// SetError makes converting id fail with err
func (f *FakeConverter) SetError(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = fakeResult{err: err}
}

// SetPanic makes converting id panic
func (f *FakeConverter) SetPanic(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = fakeResult{panic: true}
}

// SetDelay makes every conversion take at least d
func (f *FakeConverter) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *FakeConverter) Convert(ctx context.Context, id string, _ []byte) (transform.Sequence, error) {
	f.mu.Lock()
	f.calls[id]++
	res, ok := f.results[id]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return Sequence(GameLines...), nil
	}
	if res.panic {
		panic(fmt.Sprintf("converter exploded on %s", id))
	}
	return res.seq, res.err
}

// Calls returns how many times id was converted
func (f *FakeConverter) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// TotalCalls returns the number of conversions across all IDs
func (f *FakeConverter) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// MemorySink keeps artifacts in memory and counts writes per ID
type MemorySink struct {
	mu       sync.Mutex
	data     map[string][]byte
	writes   map[string]int
	writeErr map[string]error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		data:     make(map[string][]byte),
		writes:   make(map[string]int),
		writeErr: make(map[string]error),
	}
}

func (m *MemorySink) Name() string { return "memory" }

// SetWriteError makes writes for id fail
func (m *MemorySink) SetWriteError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr[id] = err
}

// Put stores an artifact directly, bypassing write counting
func (m *MemorySink) Put(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
}

func (m *MemorySink) Write(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr[id]; err != nil {
		return err
	}
	m.writes[id]++
	m.data[id] = append([]byte(nil), data...)
	return nil
}

func (m *MemorySink) Size(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	if !ok {
		return 0, sink.ErrNotFound
	}
	return int64(len(data)), nil
}

func (m *MemorySink) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// Get returns the stored artifact for id
func (m *MemorySink) Get(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	return data, ok
}

// Writes returns how many times id was written
func (m *MemorySink) Writes(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[id]
}

// Len returns the number of stored artifacts
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// ErrInjected is a generic failure for fakes
var ErrInjected = errors.New("injected failure")

// DecodeArtifact reads a gzip artifact back into its events
func DecodeArtifact(data []byte) (transform.Sequence, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return transform.ParseLines(zr)
}
