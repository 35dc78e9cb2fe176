// Package upload drives a protocol engine through a full firmware upload:
// handshake, erase, program, verify, finalize and execute.
package upload

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/firmware"
	"github.com/bigbag/boardflash/internal/strategy"
	"github.com/bigbag/boardflash/internal/transport"
)

// DefaultRecent is how many exchanges a Failure carries.
const DefaultRecent = 16

// ProgressFunc is called after each chunk is committed.
type ProgressFunc func(done, total int, elapsed time.Duration)

// Option configures an Uploader.
type Option func(*Uploader)

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(u *Uploader) { u.progress = fn }
}

// WithJournalSink receives every exchange as it is recorded.
func WithJournalSink(fn func(engine.Entry)) Option {
	return func(u *Uploader) { u.sink = fn }
}

// WithSelector replaces the engine selector.
func WithSelector(s strategy.Selector) Option {
	return func(u *Uploader) { u.selector = s }
}

// WithRecent sets how many exchanges a Failure carries.
func WithRecent(n int) Option {
	return func(u *Uploader) { u.recent = n }
}

// Uploader runs uploads. It holds no per-upload state and may be reused, but
// a channel must only be used by one upload at a time.
type Uploader struct {
	progress ProgressFunc
	sink     func(engine.Entry)
	selector strategy.Selector
	recent   int
}

// New returns an Uploader.
func New(opts ...Option) *Uploader {
	u := &Uploader{selector: strategy.Select, recent: DefaultRecent}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// session is the state of one upload.
type session struct {
	u       *Uploader
	img     *firmware.Image
	desc    board.Descriptor
	eng     engine.Engine
	journal *engine.Journal
	start   time.Time
	done    int
}

// Upload flashes img to the board on ch. On failure the error is a *Failure.
// Cancelling ctx stops the upload at the next chunk boundary and resets the
// board; a chunk already started is always finished.
func (u *Uploader) Upload(ctx context.Context, img *firmware.Image, desc board.Descriptor, ch transport.Channel) (*Result, error) {
	s := &session{u: u, img: img, desc: desc.WithDefaults(), start: time.Now()}
	s.journal = engine.NewJournal(u.sink)

	if err := s.desc.Validate(); err != nil {
		return nil, s.fail(StageConfigure, err)
	}
	if img.Len() == 0 {
		return nil, s.fail(StageConfigure, errors.New("firmware image is empty"))
	}
	eng, err := u.selector(s.desc, ch, s.journal)
	if err != nil {
		return nil, s.fail(StageConfigure, err)
	}
	s.eng = eng
	return s.run(ctx)
}

func (s *session) run(ctx context.Context) (*Result, error) {
	// Only the handshake may be interrupted; once flash is touched every
	// operation runs to completion and cancellation is honoured between chunks.
	op := context.WithoutCancel(ctx)
	base := s.desc.FlashBase
	total := s.img.Len()

	glog.V(1).Infof("upload: %s (%s) %d bytes at 0x%08X", s.desc.Name, s.eng.Family(), total, base)
	s.journal.Notef("upload %s: %d bytes at 0x%08X via %s", s.desc.Name, total, base, s.eng.Family())

	if err := s.eng.Handshake(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, s.cancel(ctx)
		}
		return nil, s.fail(StageHandshake, err)
	}
	if ctx.Err() != nil {
		return nil, s.cancel(ctx)
	}

	s.stage(StageErase)
	if err := s.eng.Erase(op, base, total); err != nil {
		return nil, s.fail(StageErase, err)
	}

	chunks := Split(s.img, base, s.desc.PageSize)
	perChunk := s.eng.VerifyMode() == engine.VerifyPerChunk
	s.stage(StageProgram)
	for _, c := range chunks {
		if ctx.Err() != nil {
			return nil, s.cancel(ctx)
		}
		if err := s.eng.Program(op, c); err != nil {
			return nil, s.fail(StageProgram, err)
		}
		if perChunk {
			if err := s.eng.Verify(op, c.Address, c.Data); err != nil {
				return nil, s.fail(StageVerify, err)
			}
		}
		s.done += len(c.Data)
		glog.V(2).Infof("upload: %v committed", c)
		if s.u.progress != nil {
			s.u.progress(s.done, total, time.Since(s.start))
		}
	}

	if !perChunk {
		s.stage(StageVerify)
		if err := s.eng.Verify(op, base, s.img.Slice(0, total)); err != nil {
			return nil, s.fail(StageVerify, err)
		}
	}

	s.stage(StageFinalize)
	if err := s.eng.Finalize(op); err != nil {
		return nil, s.fail(StageFinalize, err)
	}
	s.stage(StageExecute)
	if err := s.eng.Execute(op); err != nil {
		return nil, s.fail(StageExecute, err)
	}

	res := &Result{BytesWritten: s.done, Chunks: len(chunks), Duration: time.Since(s.start)}
	glog.V(1).Infof("upload: %s done, %d bytes in %v", s.desc.Name, res.BytesWritten, res.Duration)
	return res, nil
}

func (s *session) stage(st Stage) {
	glog.V(1).Infof("upload: %s", st)
	s.journal.Notef("stage %s", st)
}

func (s *session) fail(st Stage, err error) *Failure {
	f := &Failure{
		Stage:            st,
		Err:              err,
		NeedsManualReset: needsManualReset(st, err),
	}
	var pe *engine.ProgramError
	if errors.As(err, &pe) {
		f.Chunk, f.Attempts = pe.Chunk, pe.Attempts
	}
	s.journal.Notef("failed at %s: %v", st, err)
	f.Recent = s.journal.Tail(s.u.recent)
	glog.Errorf("upload: %s failed at %s: %v", s.desc.Name, st, err)
	return f
}

// cancel issues a best-effort reset and reports the cancellation.
func (s *session) cancel(ctx context.Context) *Failure {
	s.journal.Notef("cancelled after %d of %d bytes", s.done, s.img.Len())
	if err := s.eng.Reset(context.WithoutCancel(ctx)); err != nil {
		glog.Warningf("upload: reset after cancel: %v", err)
	}
	return s.fail(StageCancelled, engine.Fail(engine.ErrCancelled, "upload", ctx.Err()))
}
