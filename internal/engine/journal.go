package engine

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxRecorded caps the bytes kept per journal entry; Size keeps the real length.
const maxRecorded = 256

// Direction of a journal entry.
type Direction int

const (
	Tx Direction = iota
	Rx
	Note
)

func (d Direction) String() string {
	switch d {
	case Tx:
		return "tx"
	case Rx:
		return "rx"
	default:
		return "note"
	}
}

// Entry is one line of the exchange log.
type Entry struct {
	At      time.Time
	Dir     Direction
	Data    []byte
	Size    int
	Note    string
	Elapsed time.Duration // rx: time spent waiting for the bytes
}

func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-4s", e.At.Format("15:04:05.000"), e.Dir)
	if e.Dir != Note {
		fmt.Fprintf(&b, " [%d]", e.Size)
		if len(e.Data) > 0 {
			fmt.Fprintf(&b, " % X", e.Data)
			if e.Size > len(e.Data) {
				b.WriteString(" ...")
			}
		}
	}
	if e.Elapsed > 0 {
		fmt.Fprintf(&b, " (%v)", e.Elapsed.Round(time.Microsecond))
	}
	if e.Note != "" {
		b.WriteString(" ")
		b.WriteString(e.Note)
	}
	return b.String()
}

// Journal is the append-only exchange log of one upload. An optional sink
// receives every entry as it is appended.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	sink    func(Entry)
}

// NewJournal returns an empty journal. sink may be nil.
func NewJournal(sink func(Entry)) *Journal {
	return &Journal{sink: sink}
}

func (j *Journal) add(e Entry) {
	if j == nil {
		return
	}
	e.At = time.Now()
	j.mu.Lock()
	j.entries = append(j.entries, e)
	sink := j.sink
	j.mu.Unlock()
	if sink != nil {
		sink(e)
	}
}

func record(data []byte) []byte {
	if len(data) > maxRecorded {
		data = data[:maxRecorded]
	}
	return append([]byte(nil), data...)
}

// Tx records bytes sent to the target.
func (j *Journal) Tx(data []byte, note string) {
	j.add(Entry{Dir: Tx, Data: record(data), Size: len(data), Note: note})
}

// Rx records bytes received from the target and how long they took.
func (j *Journal) Rx(data []byte, elapsed time.Duration, note string) {
	j.add(Entry{Dir: Rx, Data: record(data), Size: len(data), Note: note, Elapsed: elapsed})
}

// Notef records an annotation.
func (j *Journal) Notef(format string, args ...interface{}) {
	j.add(Entry{Dir: Note, Note: fmt.Sprintf(format, args...)})
}

// Entries returns a copy of the log.
func (j *Journal) Entries() []Entry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

// Tail returns the last n entries.
func (j *Journal) Tail(n int) []Entry {
	all := j.Entries()
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// FormatEntries renders entries one per line.
func FormatEntries(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Dump renders the whole journal one entry per line.
func (j *Journal) Dump() string {
	return FormatEntries(j.Entries())
}

var csvHeader = []string{"timestamp", "direction", "size", "hex", "elapsed_us", "note"}

// CSVWriter streams entries as CSV rows. Its Add method can serve as a
// journal sink; the header is written before the first row.
type CSVWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	header bool
	err    error
}

// NewCSVWriter returns a CSVWriter on w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Add writes one entry. The first error sticks and is reported by Flush.
func (c *CSVWriter) Add(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if !c.header {
		c.header = true
		if c.err = c.w.Write(csvHeader); c.err != nil {
			return
		}
	}
	c.err = c.w.Write([]string{
		e.At.Format(time.RFC3339Nano),
		e.Dir.String(),
		strconv.Itoa(e.Size),
		hex.EncodeToString(e.Data),
		strconv.FormatInt(e.Elapsed.Microseconds(), 10),
		e.Note,
	})
}

// Flush writes buffered rows and returns the first error seen.
func (c *CSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if !c.header {
		c.header = true
		if c.err = c.w.Write(csvHeader); c.err != nil {
			return c.err
		}
	}
	c.w.Flush()
	c.err = c.w.Error()
	return c.err
}

// WriteCSV exports the journal.
func (j *Journal) WriteCSV(w io.Writer) error {
	c := NewCSVWriter(w)
	for _, e := range j.Entries() {
		c.Add(e)
	}
	return c.Flush()
}
