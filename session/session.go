// Package session implements the single-image background removal workflow:
// pick a file, remove its background, recolor, download.
//
// Each Session owns one goroutine. Every operation is a closure executed on
// that goroutine, so session state needs no locks. Removal runs on its own
// goroutine and reports back tagged with its attempt id; results for an
// attempt that is no longer current are dropped.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chaos-io/bgstudio/codec"
	"github.com/chaos-io/bgstudio/compose"
	"github.com/chaos-io/bgstudio/prefs"
	"github.com/chaos-io/bgstudio/rembg"
	"github.com/chaos-io/bgstudio/util"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

const (
	downloadSuffix = "_colored_bg.png"
	prefsTimeout   = 2 * time.Second
)

// Handles publishes image bytes behind an opaque id, e.g. blob.Store.
type Handles interface {
	Put(mediaType string, data []byte) string
	Revoke(id string)
}

// Compositor flattens a processed image onto a solid color.
type Compositor func(data []byte, c compose.Color) (*compose.Result, error)

type Options struct {
	Remover rembg.Remover
	Prefs   prefs.Store
	// Handles is optional; without it snapshots carry no display handles.
	Handles      Handles
	Clock        Clock
	Compose      Compositor
	DefaultColor *compose.Color
	// RemovalTimeout bounds one removal attempt; zero means no bound.
	RemovalTimeout time.Duration
	// PreviewSize limits the longest side of the source preview; zero keeps
	// the original bytes.
	PreviewSize int
}

type Source struct {
	Name      string
	MediaType string
	Data      []byte
	Handle    string
}

type attemptResult struct {
	attempt string
	img     *rembg.Image
	err     error
}

type Session struct {
	id   string
	opts Options

	cmds    chan func()
	results chan attemptResult
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// owned by the loop goroutine
	state           State
	source          *Source
	processed       *rembg.Image
	processedHandle string
	composite       *compose.Result
	compositeHandle string
	defaultColor    compose.Color
	color           compose.Color
	errMsg          string
	progress        Progress

	attempt       string
	cancelAttempt context.CancelFunc
	attemptStart  time.Time
	estimate      time.Duration
	frame         Timer
	hold          Timer

	subs       map[int]chan Snapshot
	nextSub    int
	lastActive time.Time
}

// New creates a session in the Idle state and starts its loop. The
// background color is loaded from opts.Prefs, falling back to the default.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Compose == nil {
		opts.Compose = compose.ApplyBackground
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewMemory()
	}
	if opts.Remover == nil {
		opts.Remover = rembg.NewPassthrough()
	}
	def := compose.White
	if opts.DefaultColor != nil {
		def = *opts.DefaultColor
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           ksuid.New().String(),
		opts:         opts,
		cmds:         make(chan func()),
		results:      make(chan attemptResult),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		state:        Idle,
		defaultColor: def,
		color:        def,
		progress:     idleProgress,
		subs:         map[int]chan Snapshot{},
		lastActive:   opts.Clock.Now(),
	}
	s.color = s.loadColor()

	go s.loop()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case res := <-s.results:
			s.finishAttempt(res)
		case <-timerC(s.frame):
			s.frame = nil
			s.sampleProgress()
		case <-timerC(s.hold):
			s.hold = nil
			s.endHold()
		case <-s.done:
			s.teardown()
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (s *Session) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.stopped:
		return ErrClosed
	}
	<-ran
	return nil
}

// SelectFile loads a new source image. Any attempt in flight is abandoned and
// all results derived from the previous source are cleared.
func (s *Session) SelectFile(name, mediaType string, data []byte) error {
	return s.do(func() {
		s.abandonAttempt()
		s.stopTimers()
		s.releaseSource()
		s.clearResult()

		s.source = &Source{
			Name:      name,
			MediaType: mediaType,
			Data:      data,
			Handle:    s.publishPreview(mediaType, data),
		}
		s.errMsg = ""
		s.progress = idleProgress
		s.state = Ready

		util.Logger.Info("file selected",
			zap.String("session", s.id),
			zap.String("name", name),
			zap.String("mime_type", mediaType),
			zap.Int("size", len(data)))
		s.publish()
	})
}

// StartRemoval begins a removal attempt and returns its id. It is allowed
// from Ready and Failed only.
func (s *Session) StartRemoval() (string, error) {
	var (
		id     string
		opErr  error
		source *Source
	)
	err := s.do(func() {
		switch s.state {
		case Removing:
			opErr = ErrBusy
			return
		case Ready, Failed:
		default:
			opErr = ErrInvalidTransition
			return
		}
		source = s.source

		s.stopTimers()
		s.clearResult()
		s.errMsg = ""

		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if s.opts.RemovalTimeout > 0 {
			ctx, cancel = context.WithTimeout(s.ctx, s.opts.RemovalTimeout)
		} else {
			ctx, cancel = context.WithCancel(s.ctx)
		}
		id = ksuid.New().String()
		s.attempt = id
		s.cancelAttempt = cancel
		s.state = Removing
		s.attemptStart = s.opts.Clock.Now()
		s.estimate = EstimateDuration(int64(len(source.Data)))
		s.progress = Sample(0, s.estimate)
		s.frame = s.opts.Clock.NewTimer(FrameInterval)

		util.Logger.Info("background removal started",
			zap.String("session", s.id),
			zap.String("attempt", id),
			zap.Duration("estimate", s.estimate))

		go s.runAttempt(ctx, id, source)
		s.publish()
	})
	if err != nil {
		return "", err
	}
	return id, opErr
}

func (s *Session) runAttempt(ctx context.Context, id string, src *Source) {
	defer util.Trace("removal attempt", zap.String("attempt", id))()

	res := attemptResult{attempt: id}
	payload, err := codec.EncodeBytes(src.MediaType, src.Data)
	if err != nil {
		res.err = err
	} else {
		res.img, res.err = s.opts.Remover.Remove(ctx, payload)
	}

	select {
	case s.results <- res:
	case <-s.stopped:
	}
}

func (s *Session) finishAttempt(res attemptResult) {
	if res.attempt != s.attempt || s.state != Removing {
		util.Logger.Debug("dropping stale removal result",
			zap.String("session", s.id),
			zap.String("attempt", res.attempt))
		return
	}
	s.cancelAttempt()
	s.cancelAttempt = nil
	s.stopTimers()

	if res.err != nil {
		s.fail(res.err)
		s.publish()
		return
	}

	s.processed = res.img
	s.processedHandle = s.put(res.img.MediaType, res.img.Data)
	s.state = Succeeded
	s.progress = Progress{Percent: 100, Message: MsgComplete}
	s.hold = s.opts.Clock.NewTimer(CompleteHold)

	util.Logger.Info("background removed",
		zap.String("session", s.id),
		zap.String("attempt", res.attempt),
		zap.Int("size", len(res.img.Data)))

	s.recompose()
	s.publish()
}

// ChangeColor updates and persists the background color, recompositing when a
// processed image exists.
func (s *Session) ChangeColor(c compose.Color) error {
	return s.do(func() {
		s.color = c
		s.saveColor()
		if s.processed != nil {
			s.recompose()
		}
		s.publish()
	})
}

// Reset returns to Idle, dropping every per-image value and restoring the
// default color.
func (s *Session) Reset() error {
	return s.do(func() {
		s.abandonAttempt()
		s.stopTimers()
		s.releaseSource()
		s.clearResult()
		s.errMsg = ""
		s.progress = idleProgress
		s.state = Idle
		s.color = s.defaultColor
		s.saveColor()

		util.Logger.Info("session reset", zap.String("session", s.id))
		s.publish()
	})
}

// Download returns the file to offer to the user: the composite if there is
// one, otherwise the raw processed image.
func (s *Session) Download() (name, mediaType string, data []byte, err error) {
	doErr := s.do(func() {
		stem := "image"
		if s.source != nil {
			stem = util.StemName(s.source.Name, stem)
		}
		name = stem + downloadSuffix

		switch {
		case s.state == Removing:
			err = ErrNothingToDownload
		case s.composite != nil:
			mediaType, data = s.composite.MediaType, s.composite.Data
		case s.processed != nil:
			mediaType, data = s.processed.MediaType, s.processed.Data
		default:
			err = ErrNothingToDownload
		}
	})
	if doErr != nil {
		return "", "", nil, doErr
	}
	return name, mediaType, data, err
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() { snap = s.snapshot() })
	return snap, err
}

// Touch marks the session as in use.
func (s *Session) Touch() error {
	return s.do(func() { s.lastActive = s.opts.Clock.Now() })
}

// LastActive is the time of the last Touch, or of creation.
func (s *Session) LastActive() (time.Time, error) {
	var t time.Time
	err := s.do(func() { t = s.lastActive })
	return t, err
}

// Subscribe streams snapshots, starting with the current one. Slow readers
// only see the latest snapshot. The channel is closed by cancel or Close.
func (s *Session) Subscribe() (<-chan Snapshot, func(), error) {
	ch := make(chan Snapshot, 1)
	var key int
	err := s.do(func() {
		key = s.nextSub
		s.nextSub++
		s.subs[key] = ch
		ch <- s.snapshot()
	})
	if err != nil {
		return nil, nil, err
	}

	cancel := func() {
		_ = s.do(func() {
			if c, ok := s.subs[key]; ok {
				delete(s.subs, key)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// Close stops the loop, cancels any attempt in flight and releases handles.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Session) teardown() {
	s.abandonAttempt()
	s.stopTimers()
	s.releaseSource()
	s.clearResult()
	for k, c := range s.subs {
		delete(s.subs, k)
		close(c)
	}
	s.cancel()
	util.Logger.Debug("session closed", zap.String("session", s.id))
}

func (s *Session) sampleProgress() {
	if s.state != Removing {
		return
	}
	elapsed := s.opts.Clock.Now().Sub(s.attemptStart)
	p := Sample(elapsed, s.estimate)
	if p.Percent < s.progress.Percent {
		p.Percent = s.progress.Percent
	}
	s.progress = p
	if Ratio(elapsed, s.estimate) < 1 {
		s.frame = s.opts.Clock.NewTimer(FrameInterval)
	}
	s.publish()
}

func (s *Session) endHold() {
	if s.state == Removing {
		return
	}
	s.progress = idleProgress
	s.publish()
}

func (s *Session) recompose() {
	res, err := s.opts.Compose(s.processed.Data, s.color)
	if err != nil {
		util.Logger.Error("failed to apply background color",
			zap.String("session", s.id),
			zap.String("color", s.color.Hex()),
			zap.Error(err))
		s.stopTimers()
		s.fail(err)
		return
	}
	s.revoke(&s.compositeHandle)
	s.composite = res
	s.compositeHandle = s.put(res.MediaType, res.Data)
}

func (s *Session) fail(err error) {
	util.Logger.Warn("background removal failed",
		zap.String("session", s.id),
		zap.String("attempt", s.attempt),
		zap.Error(err))
	s.clearResult()
	s.errMsg = userMessage(err)
	s.progress = idleProgress
	s.state = Failed
}

func (s *Session) abandonAttempt() {
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
	s.attempt = ""
}

func (s *Session) stopTimers() {
	if s.frame != nil {
		s.frame.Stop()
		s.frame = nil
	}
	if s.hold != nil {
		s.hold.Stop()
		s.hold = nil
	}
}

func (s *Session) clearResult() {
	s.revoke(&s.processedHandle)
	s.revoke(&s.compositeHandle)
	s.processed = nil
	s.composite = nil
}

func (s *Session) releaseSource() {
	if s.source != nil {
		s.revoke(&s.source.Handle)
	}
	s.source = nil
}

func (s *Session) put(mediaType string, data []byte) string {
	if s.opts.Handles == nil {
		return ""
	}
	return s.opts.Handles.Put(mediaType, data)
}

func (s *Session) revoke(handle *string) {
	if s.opts.Handles != nil && *handle != "" {
		s.opts.Handles.Revoke(*handle)
	}
	*handle = ""
}

func (s *Session) publishPreview(mediaType string, data []byte) string {
	if s.opts.Handles == nil {
		return ""
	}
	if s.opts.PreviewSize <= 0 {
		return s.put(mediaType, data)
	}
	thumb, err := compose.Thumbnail(data, s.opts.PreviewSize)
	if err != nil {
		// 预览失败不影响流程，直接展示原图
		util.Logger.Debug("preview thumbnail failed", zap.String("session", s.id), zap.Error(err))
		return s.put(mediaType, data)
	}
	return s.put(compose.MediaTypePNG, thumb)
}

func (s *Session) loadColor() compose.Color {
	ctx, cancel := context.WithTimeout(s.ctx, prefsTimeout)
	defer cancel()

	v, ok, err := s.opts.Prefs.Get(ctx, prefs.KeyBackgroundColor)
	if err != nil {
		util.Logger.Warn("could not read background color preference", zap.Error(err))
		return s.defaultColor
	}
	if !ok {
		return s.defaultColor
	}
	c, err := compose.ParseColor(v)
	if err != nil {
		util.Logger.Warn("ignoring invalid background color preference", zap.String("value", v), zap.Error(err))
		return s.defaultColor
	}
	return c
}

func (s *Session) saveColor() {
	ctx, cancel := context.WithTimeout(s.ctx, prefsTimeout)
	defer cancel()

	if err := s.opts.Prefs.Set(ctx, prefs.KeyBackgroundColor, s.color.Hex()); err != nil {
		util.Logger.Warn("could not write background color preference", zap.Error(err))
	}
}

// IsClientError reports whether err is caused by calling an operation at the
// wrong time rather than by a failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNothingToDownload)
}
