package upload

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/engine"
)

// Stage names the step of an upload.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageHandshake Stage = "handshake"
	StageErase     Stage = "erase"
	StageProgram   Stage = "program"
	StageVerify    Stage = "verify"
	StageFinalize  Stage = "finalize"
	StageExecute   Stage = "execute"
	StageCancelled Stage = "cancelled"
)

// Result describes a successful upload.
type Result struct {
	BytesWritten int
	Chunks       int
	Duration     time.Duration
}

// Failure is the error returned for a failed upload.
type Failure struct {
	Stage Stage
	Err   error
	// NeedsManualReset is set when the board may only need a reset (or a
	// press of its reset button) before trying again.
	NeedsManualReset bool
	// Chunk and Attempts identify the chunk that could not be programmed and
	// how many times it was sent. Attempts is zero for other failures.
	Chunk    int
	Attempts int
	// Recent holds the last exchanges before the failure, verbatim.
	Recent []engine.Entry
}

func (f *Failure) Error() string {
	return fmt.Sprintf("upload failed at %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Report renders the failure with the exchanges that led to it.
func (f *Failure) Report() string {
	var b strings.Builder
	b.WriteString(f.Error())
	b.WriteByte('\n')
	if f.Attempts > 0 {
		fmt.Fprintf(&b, "chunk %d failed after %d attempts\n", f.Chunk, f.Attempts)
	}
	if f.NeedsManualReset {
		b.WriteString("the board may need a manual reset before retrying\n")
	}
	if len(f.Recent) > 0 {
		b.WriteString("last exchanges:\n")
		b.WriteString(engine.FormatEntries(f.Recent))
	}
	return b.String()
}

// needsManualReset reports whether a failure at stage might clear with a
// reset of the board. Data faults, dead channels and cancellations do not.
func needsManualReset(stage Stage, err error) bool {
	switch {
	case stage == StageConfigure, stage == StageCancelled:
		return false
	case errors.Is(err, engine.ErrVerifyMismatch), errors.Is(err, engine.ErrTransport):
		return false
	}
	return true
}
