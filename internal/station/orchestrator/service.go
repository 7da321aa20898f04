package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/config"
	"github.com/gridswap/go-station-ops/internal/station/correlate"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Service drives workflow sessions: it owns the store, the correlation
// client and the actor identity, and hands out one Flow per live session.
// Actor credentials are passed in at construction, never read from ambient
// state.
type Service struct {
	store      storage.SessionStore
	correlator *correlate.Client
	clock      time2.Clock
	cfg        config.Station
	actor      session.Actor
}

func NewService(store storage.SessionStore, correlator *correlate.Client, clock time2.Clock, cfg config.Server, actor session.Actor) *Service {
	return &Service{
		store:      store,
		correlator: correlator,
		clock:      clock,
		cfg:        cfg.Station,
		actor:      actor,
	}
}

// subject builds the request subject for one backend operation, e.g.
// "swap.station-7.identify". Transport-level namespacing (the configured
// channel prefix) happens below this layer.
func (svc *Service) subject(flow string, op string) string {
	return fmt.Sprintf("%s.%s.%s", flow, svc.cfg.StationID, op)
}

// Flow binds one live session to its autosaver. All mutating methods hold
// the flow lock: one operator device drives one session at a time.
type Flow struct {
	svc *Service

	mu          sync.Mutex
	current     *session.Session
	referenceID string
	saver       *session.Autosaver
}

func (svc *Service) newFlow(s *session.Session, referenceID string) *Flow {
	f := &Flow{
		svc:         svc,
		current:     s,
		referenceID: referenceID,
	}
	f.saver = session.NewAutosaver(func(ctx context.Context, refID string, s *session.Session) error {
		return svc.store.Save(ctx, refID, s)
	}, svc.cfg.AutosaveDebounce)
	return f
}

// StartSwap opens a fresh asset-swap session. Nothing is persisted until
// the subscription is identified and a backend order reference exists.
func (svc *Service) StartSwap() (*SwapFlow, error) {
	s, err := session.New(svc.clock, session.WorkflowAssetSwap,
		session.TotalSteps(session.WorkflowAssetSwap, false), svc.actor, svc.cfg.SessionTTL)
	if err != nil {
		return nil, errors.Wrap(err, "start swap session")
	}

	log.Info().Str("sessionId", s.SessionID).Msg("Started asset swap session")
	return &SwapFlow{svc.newFlow(s, "")}, nil
}

// StartRegistration opens a fresh registration session. The guarantor step
// is part of the graph when the station requires it.
func (svc *Service) StartRegistration() (*RegistrationFlow, error) {
	s, err := session.New(svc.clock, session.WorkflowRegistration,
		session.TotalSteps(session.WorkflowRegistration, svc.cfg.RequireGuarantor), svc.actor, svc.cfg.SessionTTL)
	if err != nil {
		return nil, errors.Wrap(err, "start registration session")
	}

	log.Info().Str("sessionId", s.SessionID).Bool("requireGuarantor", svc.cfg.RequireGuarantor).
		Msg("Started registration session")
	return &RegistrationFlow{svc.newFlow(s, "")}, nil
}

// OpenSessions lists sessions an operator could pick up. The status filter
// defaults to in-progress; callers may override it to browse completed or
// expired sessions.
func (svc *Service) OpenSessions(ctx context.Context, filter storage.Filter) (*storage.Page, error) {
	if filter.Status == "" {
		filter.Status = "in_progress"
	}
	page, err := svc.store.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return page, nil
}

// Resume rehydrates a persisted session for continued operation. Completed
// and expired sessions are not resumable; use Review for those.
func (svc *Service) Resume(ctx context.Context, referenceID string) (*Flow, error) {
	s, err := svc.store.Load(ctx, referenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "load session %s", referenceID)
	}
	if !s.CanResume(svc.clock.Now()) {
		return nil, ErrNotResumable
	}

	log.Info().Str("referenceId", referenceID).Str("sessionId", s.SessionID).
		Int("currentStep", s.FlowState.CurrentStep).Msg("Resumed session")
	return svc.newFlow(s, referenceID), nil
}

// Review loads a session read-only, regardless of its lifecycle state.
func (svc *Service) Review(ctx context.Context, referenceID string) (*session.Session, error) {
	s, err := svc.store.Load(ctx, referenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "load session %s", referenceID)
	}
	return s, nil
}

// Discard abandons a persisted session.
func (svc *Service) Discard(ctx context.Context, referenceID string) error {
	if err := svc.store.Delete(ctx, referenceID); err != nil {
		return errors.Wrapf(err, "discard session %s", referenceID)
	}
	log.Info().Str("referenceId", referenceID).Msg("Discarded session")
	return nil
}

// Session returns the current session value. Treat it as read-only: all
// mutation goes through flow methods.
func (f *Flow) Session() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// ReferenceID returns the backend order reference, or "" before one was
// assigned.
func (f *Flow) ReferenceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.referenceID
}

// FlushNow forces a synchronous save of any pending mutation.
func (f *Flow) FlushNow(ctx context.Context) error {
	return f.saver.FlushNow(ctx)
}

// Close stops the autosaver without writing. Callers that need the last
// mutation persisted call FlushNow first.
func (f *Flow) Close() {
	f.saver.Close()
}

// Swap narrows the flow to the asset-swap handlers.
func (f *Flow) Swap() (*SwapFlow, error) {
	if f.Session().WorkflowType != session.WorkflowAssetSwap {
		return nil, ErrWorkflowMismatch
	}
	return &SwapFlow{f}, nil
}

// Registration narrows the flow to the registration handlers.
func (f *Flow) Registration() (*RegistrationFlow, error) {
	if f.Session().WorkflowType != session.WorkflowRegistration {
		return nil, ErrWorkflowMismatch
	}
	return &RegistrationFlow{f}, nil
}

// GoToStep navigates the operator back (or forward within already visited
// ground). The high-water mark bounds how far forward navigation may jump.
func (f *Flow) GoToStep(step int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	if step > f.current.FlowState.MaxStepReached {
		return errors.Wrapf(session.ErrInvalidStep, "step %d beyond high-water mark %d",
			step, f.current.FlowState.MaxStepReached)
	}
	return f.advance(step, nil)
}

// guard rejects mutation of sessions that are frozen or lapsed. Callers
// hold f.mu.
func (f *Flow) guard() error {
	if f.current.Completed() {
		return ErrSessionCompleted
	}
	if f.current.Expired(f.svc.clock.Now()) {
		return ErrNotResumable
	}
	return nil
}

// advance moves the state machine and marks the autosaver dirty. Callers
// hold f.mu.
func (f *Flow) advance(step int, payload session.StepPayload) error {
	name := session.StepName(f.current.WorkflowType, f.current.FlowState.TotalSteps, step)
	next, err := f.current.Advance(f.svc.clock, step, name, payload)
	if err != nil {
		return err
	}
	f.current = next
	f.markDirty()
	return nil
}

// fail records a step failure without blocking the caller's error return.
// Callers hold f.mu.
func (f *Flow) fail(step int, reason string) {
	next, err := f.current.Fail(f.svc.clock, step, reason)
	if err != nil {
		log.Warn().Err(err).Int("step", step).Msg("Failed to record step failure")
		return
	}
	f.current = next
	f.markDirty()
}

// step resolves the step number a payload kind lives at in this session's
// graph, or 0 when the kind is not part of it. Callers hold f.mu.
func (f *Flow) step(kind session.StepKind) int {
	requireGuarantor := f.current.WorkflowType == session.WorkflowRegistration &&
		f.current.FlowState.TotalSteps == 8
	for _, def := range session.Steps(f.current.WorkflowType, requireGuarantor) {
		if def.Kind == kind {
			return def.Number
		}
	}
	return 0
}

// markDirty hands the latest session value to the autosaver. Callers hold
// f.mu.
func (f *Flow) markDirty() {
	f.saver.MarkDirty(f.referenceID, f.current)
}
