// Package screen holds the state of the event list screen and the
// operations that drive it: load, refresh, create and delete.
//
// The in-memory list is only ever replaced wholesale by a fresh server
// response. Every failure collapses into a single user-visible message;
// the underlying error is returned to the caller for logging.
package screen

import (
	"context"
	"errors"
	"slices"
	"sync"

	appLog "ithappened/internal/log"
	"ithappened/internal/metrics"
	"ithappened/internal/model"
)

// ErrorMessage is the only message ever shown for a failed operation.
const ErrorMessage = "Something went wrong. Please try again later."

var (
	// ErrDeleteDisabled is returned by Delete on a read-only screen.
	ErrDeleteDisabled = errors.New("screen: delete is disabled")

	// ErrSuperseded is returned by a Load whose result was discarded
	// because a newer Load started before it finished.
	ErrSuperseded = errors.New("screen: load superseded by a newer load")
)

// Status is the explicit load state of the screen.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Settled reports whether no load is pending.
func (s Status) Settled() bool {
	return s == StatusLoaded || s == StatusErrored
}

// EventService is the remote API as seen by the screen. *api.Client
// implements it.
type EventService interface {
	List(ctx context.Context) ([]model.Event, error)
	Create(ctx context.Context, req model.CreateEventRequest) error
	Delete(ctx context.Context, id int64) error
}

// Snapshot is a point-in-time copy of the screen state.
type Snapshot struct {
	Status      Status
	Events      []model.Event
	Error       string
	Refreshing  bool
	Name        string
	Description string
	CanDelete   bool
}

// Options configures a Controller.
type Options struct {
	// ReadOnly disables Delete.
	ReadOnly bool

	// Metrics, if set, mirrors the screen status and event count.
	Metrics *metrics.Metrics
}

// Controller owns one screen instance. It is safe for concurrent use.
type Controller struct {
	svc      EventService
	readOnly bool
	metrics  *metrics.Metrics

	mu          sync.Mutex
	status      Status
	events      []model.Event
	errMsg      string
	refreshing  bool
	name        string
	description string

	// gen identifies the newest Load; cancelLoad aborts it.
	gen        uint64
	cancelLoad context.CancelFunc
}

// New creates a Controller in StatusIdle. Nothing is fetched until Load
// or Refresh is called.
func New(svc EventService, opts Options) *Controller {
	c := &Controller{
		svc:      svc,
		readOnly: opts.ReadOnly,
		metrics:  opts.Metrics,
		status:   StatusIdle,
	}
	c.publishLocked()
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Status:      c.status,
		Events:      slices.Clone(c.events),
		Error:       c.errMsg,
		Refreshing:  c.refreshing,
		Name:        c.name,
		Description: c.description,
		CanDelete:   !c.readOnly,
	}
}

// SetName updates the name input.
func (c *Controller) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// SetDescription updates the description input.
func (c *Controller) SetDescription(description string) {
	c.mu.Lock()
	c.description = description
	c.mu.Unlock()
}

// Load fetches the full event list and replaces the screen's list with
// it, newest first.
//
// The list is cleared as soon as Load starts. On failure it stays empty
// and the screen shows ErrorMessage. Starting a Load cancels any Load
// still in flight; the older one returns ErrSuperseded and leaves the
// state alone.
func (c *Controller) Load(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	c.gen++
	gen := c.gen
	c.cancelLoad = cancel
	c.events = nil
	c.status = StatusLoading
	c.publishLocked()
	c.mu.Unlock()

	events, err := c.svc.List(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		appLog.Debug("screen load superseded", "gen", gen, "current", c.gen)
		return ErrSuperseded
	}
	c.cancelLoad = nil
	c.refreshing = false

	if err != nil {
		c.events = nil
		c.errMsg = ErrorMessage
		c.status = StatusErrored
		c.publishLocked()
		return err
	}

	model.SortNewestFirst(events)
	c.events = events
	c.errMsg = ""
	c.status = StatusLoaded
	c.publishLocked()
	appLog.Debug("screen loaded", "count", len(events))
	return nil
}

// Refresh is the pull-to-refresh gesture: it raises the refreshing flag
// and reloads. The flag drops when the load settles either way.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.refreshing = true
	c.mu.Unlock()

	return c.Load(ctx)
}

// Create submits the current name and description inputs.
//
// If either input is empty nothing happens and nil is returned. On
// success the inputs are cleared, unless they were edited while the
// request was in flight, and the list is reloaded once. On failure the
// inputs and the list are left as they were and the screen shows
// ErrorMessage.
func (c *Controller) Create(ctx context.Context) error {
	c.mu.Lock()
	req := model.CreateEventRequest{Name: c.name, Description: c.description}
	c.mu.Unlock()

	return c.create(ctx, req)
}

// Submit sets both inputs and submits them as one step, so concurrent
// submissions never mix each other's fields.
func (c *Controller) Submit(ctx context.Context, name, description string) error {
	c.mu.Lock()
	c.name = name
	c.description = description
	req := model.CreateEventRequest{Name: name, Description: description}
	c.mu.Unlock()

	return c.create(ctx, req)
}

func (c *Controller) create(ctx context.Context, req model.CreateEventRequest) error {
	if !req.Valid() {
		return nil
	}

	if err := c.svc.Create(ctx, req); err != nil {
		c.fail()
		return err
	}

	c.mu.Lock()
	if c.name == req.Name && c.description == req.Description {
		c.name = ""
		c.description = ""
	}
	c.mu.Unlock()

	return c.Load(ctx)
}

// Delete removes the event with the given id on the server and reloads
// the list on success. Failures surface ErrorMessage like Create.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	if c.readOnly {
		return ErrDeleteDisabled
	}

	if err := c.svc.Delete(ctx, id); err != nil {
		c.fail()
		return err
	}

	return c.Load(ctx)
}

// fail surfaces ErrorMessage for a failed create or delete.
func (c *Controller) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = ErrorMessage
	c.status = StatusErrored
	c.publishLocked()
}

// publishLocked mirrors the state into metrics. Callers hold mu.
func (c *Controller) publishLocked() {
	if c.metrics == nil {
		return
	}
	for _, s := range []Status{StatusIdle, StatusLoading, StatusLoaded, StatusErrored} {
		v := 0.0
		if s == c.status {
			v = 1
		}
		c.metrics.ScreenStatus.WithLabelValues(s.String()).Set(v)
	}
	c.metrics.ScreenEvents.Set(float64(len(c.events)))
}
