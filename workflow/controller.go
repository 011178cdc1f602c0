// Package workflow drives one user-initiated file conversion from file
// selection through a single backend round trip to a downloadable result.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"multisvg/models"

	"github.com/google/uuid"
)

type State int

const (
	Idle State = iota
	FileSelected
	Processing
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FileSelected:
		return "file_selected"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FallbackMessage is shown when the backend gives no usable explanation.
const FallbackMessage = "An error occurred while processing the file."

const DefaultTickInterval = 100 * time.Millisecond

var (
	ErrNoFile          = errors.New("no file selected")
	ErrBusy            = errors.New("a conversion is already in progress")
	ErrUnsupportedFile = errors.New("only .svg files are accepted")
	ErrClosed          = errors.New("workflow closed")
)

// Converter performs the backend round trip for one request.
type Converter interface {
	Convert(ctx context.Context, req models.ConversionRequest) (*models.ConversionResult, error)
}

type Options struct {
	// TickInterval is the elapsed-time update cadence.
	TickInterval time.Duration
	// Params seeds the form; nil means models.DefaultParams.
	Params *models.Params
	Now    func() time.Time
}

// Snapshot is a consistent copy of the controller's state.
type Snapshot struct {
	State        State                    `json:"state"`
	Filename     string                   `json:"filename,omitempty"`
	PreviewID    string                   `json:"preview_id,omitempty"`
	Params       models.Params            `json:"params"`
	Result       *models.ConversionResult `json:"result,omitempty"`
	Elapsed      time.Duration            `json:"elapsed_ns"`
	SubmissionID string                   `json:"submission_id,omitempty"`
}

type listener struct {
	id int
	fn func(Event)
}

// Controller owns the lifecycle of one conversion form. It is safe for
// concurrent use; at most one request is in flight at a time.
type Controller struct {
	converter Converter
	previews  PreviewStore
	interval  time.Duration
	now       func() time.Time

	mu         sync.Mutex
	state      State
	filename   string
	file       []byte
	previewID  string
	params     models.Params
	result     *models.ConversionResult
	elapsed    time.Duration
	startedAt  time.Time
	ticker     *Repeater
	submission string
	pending    bool
	done       chan struct{}
	closed     bool
	listeners  []listener
	nextID     int
	emitNext   uint64

	// Deliveries take turns in the order their changes were made.
	emitMu   sync.Mutex
	emitCond *sync.Cond
	emitTurn uint64
}

func NewController(converter Converter, previews PreviewStore, opts Options) *Controller {
	c := &Controller{
		converter: converter,
		previews:  previews,
		interval:  opts.TickInterval,
		now:       opts.Now,
		params:    models.DefaultParams(),
	}
	c.emitCond = sync.NewCond(&c.emitMu)
	if c.interval <= 0 {
		c.interval = DefaultTickInterval
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.Params != nil {
		c.params = *opts.Params
	}
	return c
}

// AcceptsFile is the input filter: only the extension is checked.
func AcceptsFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".svg")
}

// SelectFile replaces the current file and its preview. Selecting while a
// request is pending fails with ErrBusy.
func (c *Controller) SelectFile(ctx context.Context, name string, content []byte) error {
	if !AcceptsFile(name) {
		return ErrUnsupportedFile
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Processing {
		c.mu.Unlock()
		return ErrBusy
	}

	id, err := c.previews.Allocate(ctx, name, content)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to allocate preview: %w", err)
	}

	old := c.previewID
	c.previewID = id
	c.filename = filepath.Base(name)
	c.file = append([]byte(nil), content...)
	c.result = nil
	c.elapsed = 0
	c.state = FileSelected

	if old != "" {
		if err := c.previews.Release(ctx, old); err != nil {
			log.Printf("[Workflow] Failed to release preview %s: %v", old, err)
		}
	}

	c.unlockAndEmit(EventFileSelected)
	return nil
}

func (c *Controller) SetParams(p models.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.params = p
	c.unlockAndEmit(EventParamsChanged)
	return nil
}

func (c *Controller) SetSpeed(speed float64) error {
	c.mu.Lock()
	p := c.params
	c.mu.Unlock()

	p.Speed = speed
	return c.SetParams(p)
}

// Submit starts the single backend round trip for the current file. The
// returned channel is closed once the submission settles. Guard violations
// (ErrNoFile, ErrBusy, ErrClosed) issue no request and change nothing.
// A request abandoned by Clear still counts until its answer arrives.
//
// The request outlives ctx's cancellation: once issued it is never
// cancelled locally.
func (c *Controller) Submit(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state == Processing || c.pending {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.file == nil {
		c.mu.Unlock()
		return nil, ErrNoFile
	}

	req := models.ConversionRequest{
		Filename: c.filename,
		File:     c.file,
		Params:   c.params,
	}

	sub := uuid.NewString()
	done := make(chan struct{})

	c.submission = sub
	c.pending = true
	c.done = done
	c.state = Processing
	c.result = nil
	c.elapsed = 0
	c.startedAt = c.now()
	c.ticker = Repeat(c.interval, func() { c.tick(sub) })

	go c.run(context.WithoutCancel(ctx), sub, req, done)

	c.unlockAndEmit(EventSubmitted)
	return done, nil
}

func (c *Controller) run(ctx context.Context, sub string, req models.ConversionRequest, done chan struct{}) {
	defer close(done)

	res, err := c.converter.Convert(ctx, req)
	if err != nil {
		log.Printf("[Workflow] Submission %s failed: %v", sub, err)
	}
	result := interpret(res, err)

	c.mu.Lock()
	c.pending = false
	if c.submission != sub || c.state != Processing {
		// Cleared or closed while the request was in flight.
		c.mu.Unlock()
		return
	}

	c.stopTickerLocked()
	if e := c.now().Sub(c.startedAt); e > c.elapsed {
		c.elapsed = e
	}
	c.result = result
	c.state = Completed

	c.unlockAndEmit(EventCompleted)
}

func interpret(res *models.ConversionResult, err error) *models.ConversionResult {
	if err != nil || res == nil {
		return &models.ConversionResult{Success: false, Message: FallbackMessage}
	}

	if !res.Success {
		msg := strings.TrimSpace(res.Message)
		if msg == "" {
			msg = FallbackMessage
		}
		return &models.ConversionResult{Success: false, Message: msg}
	}

	if res.DownloadURL == "" {
		return &models.ConversionResult{Success: false, Message: FallbackMessage}
	}

	out := &models.ConversionResult{Success: true, DownloadURL: res.DownloadURL}
	if res.ProcessingTime != nil {
		t := *res.ProcessingTime
		out.ProcessingTime = &t
	}
	return out
}

func (c *Controller) tick(sub string) {
	c.mu.Lock()
	if c.state != Processing || c.submission != sub {
		c.mu.Unlock()
		return
	}

	e := c.now().Sub(c.startedAt)
	if e <= c.elapsed {
		c.mu.Unlock()
		return
	}
	c.elapsed = e

	c.unlockAndEmit(EventTick)
}

// ClearResult drops a completed result and keeps the selected file.
func (c *Controller) ClearResult() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Completed {
		c.mu.Unlock()
		return nil
	}

	c.result = nil
	c.elapsed = 0
	c.state = FileSelected

	c.unlockAndEmit(EventCleared)
	return nil
}

// Clear returns to Idle from any state, releasing the preview. A pending
// request keeps running but its outcome is discarded.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	err := c.resetLocked(ctx)
	c.unlockAndEmit(EventCleared)
	return err
}

// Close tears the controller down. Later mutations fail with ErrClosed.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	err := c.resetLocked(ctx)
	c.closed = true

	c.unlockAndEmit(EventClosed)

	c.mu.Lock()
	c.listeners = nil
	c.mu.Unlock()

	return err
}

func (c *Controller) resetLocked(ctx context.Context) error {
	c.stopTickerLocked()

	var err error
	if c.previewID != "" {
		if rerr := c.previews.Release(ctx, c.previewID); rerr != nil {
			err = fmt.Errorf("failed to release preview: %w", rerr)
		}
	}

	c.previewID = ""
	c.filename = ""
	c.file = nil
	c.result = nil
	c.elapsed = 0
	c.submission = ""
	c.state = Idle

	return err
}

func (c *Controller) stopTickerLocked() {
	c.ticker.Stop()
	c.ticker = nil
}

// Wait blocks until no request is pending or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:        c.state,
		Filename:     c.filename,
		PreviewID:    c.previewID,
		Params:       c.params,
		Elapsed:      c.elapsed,
		SubmissionID: c.submission,
	}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	return s
}
