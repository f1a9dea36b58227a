// Package orchestrator is the top-level request pipeline: one user
// message in, one structured result out. It loads the session, appends
// the message, runs the current phase handler, optionally generates a
// reply with the LLM, persists artifacts, and applies phase transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sprintpilot/internal/fault"
	"sprintpilot/internal/handler"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/phase"
	"sprintpilot/internal/store"
	"sprintpilot/internal/types"
	"sprintpilot/internal/usage"
)

// Store is the persistence surface the orchestrator needs. LocalStore
// implements all of it.
type Store interface {
	phase.Store

	CreateSession(userID string, cfg types.SessionConfig) (*types.Session, error)
	GetSession(id string) (*types.Session, error)
	UpdateSessionStatus(sessionID string, status types.SessionStatus) error

	AppendMessage(sessionID, parentID string, role types.MessageRole, content string, phase types.Phase) (*types.Message, error)
	GetMessage(id string) (*types.Message, error)
	ActiveMessages(sessionID string) ([]*types.Message, error)
	LastActiveMessage(sessionID string) (*types.Message, error)
	SetActivePath(sessionID, messageID string) error

	SaveArtifact(sessionID string, content types.ArtifactContent, phase types.Phase) (*types.Artifact, error)
	CurrentArtifacts(sessionID string) ([]*types.Artifact, error)
	GetKnowledgeItems(ids []string) ([]*types.KnowledgeItem, error)
	MarkSelectionApplied(sessionID, knowledgeItemID string) error
}

// Options tunes the orchestrator.
type Options struct {
	// RequestTimeout bounds one whole pipeline run. Zero means 180s.
	RequestTimeout time.Duration
	// Model and Provider label usage events.
	Model    string
	Provider string
}

// ProcessResult is the structured outcome of one message.
type ProcessResult struct {
	Session       *types.Session              `json:"session"`
	UserMessage   *types.Message              `json:"user_message"`
	Reply         *types.Message              `json:"reply"`
	Validation    types.ValidationResult      `json:"validation"`
	Transitioned  bool                        `json:"transitioned"`
	FromPhase     types.Phase                 `json:"from_phase,omitempty"`
	ToPhase       types.Phase                 `json:"to_phase,omitempty"`
	SprintDone    bool                        `json:"sprint_done"`
	Selections    []*types.FrameworkSelection `json:"selections,omitempty"`
	GenerationErr string                      `json:"generation_error,omitempty"`
}

// Orchestrator serializes message processing per session and drives the
// per-message pipeline.
type Orchestrator struct {
	store    Store
	phases   *phase.Manager
	handlers *handler.Registry
	llm      types.LLMClient // nil means deterministic replies only
	tracker  *usage.Tracker  // nil disables usage accounting
	opts     Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires the orchestrator. llm and tracker may be nil.
func New(st Store, phases *phase.Manager, handlers *handler.Registry, llm types.LLMClient, tracker *usage.Tracker, opts Options) *Orchestrator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 180 * time.Second
	}
	return &Orchestrator{
		store:    st,
		phases:   phases,
		handlers: handlers,
		llm:      llm,
		tracker:  tracker,
		opts:     opts,
		locks:    make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the per-session mutex, creating it on first use.
// A single session's messages are processed strictly in arrival order;
// independent sessions proceed concurrently.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[sessionID] = l
	}
	return l
}

// StartSession creates a new sprint session.
func (o *Orchestrator) StartSession(userID string, cfg types.SessionConfig) (*types.Session, error) {
	sess, err := o.store.CreateSession(userID, cfg)
	if err != nil {
		return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.StartSession", err)
	}
	logging.Orchestrator("Started sprint session %s", sess.ID)
	return sess, nil
}

// GetSession loads a session, reconciling any logged-but-not-applied
// phase transition left by a crash.
func (o *Orchestrator) GetSession(sessionID string) (*types.Session, error) {
	sess, err := o.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := o.phases.ReconcileSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ProcessMessage runs the full pipeline for one user message.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, content string) (*ProcessResult, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return o.process(ctx, sessionID, "", content)
}

// BranchFrom rewrites the active conversation path: the root-to-
// messageID ancestry becomes the sole active path and content becomes
// its new continuation. The branch point may sit on a previously
// abandoned path; whatever path was active before is deactivated in
// the same store transaction.
func (o *Orchestrator) BranchFrom(ctx context.Context, sessionID, messageID, content string) (*ProcessResult, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	branchPoint, err := o.store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.CodeMessageNotFound, "orchestrator.BranchFrom", err)
		}
		return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.BranchFrom", err)
	}
	if branchPoint.SessionID != sessionID {
		return nil, fault.New(fault.CodeMessageNotFound, "orchestrator.BranchFrom",
			fmt.Errorf("message %s belongs to session %s", messageID, branchPoint.SessionID))
	}

	if err := o.store.SetActivePath(sessionID, messageID); err != nil {
		return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.branchPath", err).
			WithSuggestion("re-send the branch request to restore the active path")
	}

	logging.Orchestrator("Session %s branched from message %s", sessionID, messageID)
	return o.process(ctx, sessionID, messageID, content)
}

// Rollback moves the session to a strictly earlier phase.
func (o *Orchestrator) Rollback(sessionID string, to types.Phase, reason string) (*types.Session, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.phases.RollbackToPhase(sess, to, reason, ""); err != nil {
		return nil, err
	}
	return sess, nil
}

// process is the pipeline body. parentID overrides the default parent
// (the active tail) when branching.
func (o *Orchestrator) process(ctx context.Context, sessionID, parentID, content string) (*ProcessResult, error) {
	metrics := newCallMetrics()
	defer metrics.log(sessionID)

	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	var (
		sess    *types.Session
		userMsg *types.Message
		pc      *handler.PhaseContext
		hres    *handler.Result
	)

	// Load and reconcile.
	err := metrics.measure("load", func() error {
		var err error
		sess, err = o.loadSession(sessionID)
		if err != nil {
			return err
		}
		if sess.Terminal() {
			return fault.New(fault.CodePhaseNotReady, "orchestrator.process",
				fmt.Errorf("session status is %s", sess.Status)).
				WithSession(sessionID, sess.CurrentPhase).
				WithSuggestion("start a new sprint session")
		}
		_, err = o.phases.ReconcileSession(sess)
		return err
	})
	if err != nil {
		return nil, o.timeoutOr(ctx, metrics, sessionID, err)
	}

	// Append the user message.
	err = metrics.measure("append", func() error {
		if parentID == "" {
			tail, err := o.store.LastActiveMessage(sessionID)
			if err != nil {
				return fault.New(fault.CodePersistenceFailed, "orchestrator.loadTail", err).
					WithSession(sessionID, sess.CurrentPhase)
			}
			if tail != nil {
				parentID = tail.ID
			}
		}
		var err error
		userMsg, err = o.store.AppendMessage(sessionID, parentID, types.RoleUser, content, sess.CurrentPhase)
		if err != nil {
			return fault.New(fault.CodePersistenceFailed, "orchestrator.appendUser", err).
				WithSession(sessionID, sess.CurrentPhase)
		}
		return nil
	})
	if err != nil {
		return nil, o.timeoutOr(ctx, metrics, sessionID, err)
	}

	// Build the phase context.
	err = metrics.measure("context", func() error {
		var err error
		pc, err = o.buildPhaseContext(ctx, sess, userMsg)
		return err
	})
	if err != nil {
		return nil, o.timeoutOr(ctx, metrics, sessionID, err)
	}

	// Run the phase handler.
	h := o.handlers.ForPhase(sess.CurrentPhase)
	if h == nil {
		return nil, fault.New(fault.CodeUnknownPhase, "orchestrator.process", nil).
			WithSession(sessionID, sess.CurrentPhase)
	}
	err = metrics.measure("handler", func() error {
		var err error
		hres, err = h.ProcessMessage(pc)
		return err
	})
	if err != nil {
		return nil, o.timeoutOr(ctx, metrics, sessionID, err)
	}

	// Persist artifacts before generation so extraction survives a
	// generation failure.
	err = metrics.measure("artifacts", func() error {
		for _, artifact := range hres.Artifacts {
			if _, err := o.store.SaveArtifact(sessionID, artifact, sess.CurrentPhase); err != nil {
				return fault.New(fault.CodePersistenceFailed, "orchestrator.saveArtifact", err).
					WithSession(sessionID, sess.CurrentPhase)
			}
			if notes, ok := artifact.(types.ApplicationNotes); ok {
				o.markApplied(sessionID, notes.FrameworkIDs)
			}
		}
		return nil
	})
	if err != nil {
		return nil, o.timeoutOr(ctx, metrics, sessionID, err)
	}

	// Generate the reply, falling back to the handler's deterministic
	// text on failure.
	replyText := hres.Reply
	var generationErr string
	_ = metrics.measure("generate", func() error {
		if o.llm == nil || hres.UserPrompt == "" {
			return nil
		}
		generated, err := o.llm.CompleteWithSystem(ctx, hres.SystemPrompt, hres.UserPrompt)
		if err != nil {
			generationErr = err.Error()
			logging.Get(logging.CategoryOrchestrator).Warn(
				"Generation failed for session %s, using fallback reply: %v", sessionID, err)
			return nil
		}
		replyText = generated
		o.trackUsage(sess)
		return nil
	})
	if ctx.Err() != nil {
		return nil, o.timeout(metrics, sessionID, sess.CurrentPhase)
	}

	// Append the assistant reply.
	var reply *types.Message
	err = metrics.measure("reply", func() error {
		var err error
		reply, err = o.store.AppendMessage(sessionID, userMsg.ID, types.RoleAssistant, replyText, sess.CurrentPhase)
		if err != nil {
			return fault.New(fault.CodePersistenceFailed, "orchestrator.appendReply", err).
				WithSession(sessionID, sess.CurrentPhase)
		}
		return nil
	})
	if err != nil {
		return nil, o.timeoutOr(ctx, metrics, sessionID, err)
	}

	// Validate readiness and transition when the phase is done.
	result := &ProcessResult{
		Session:       sess,
		UserMessage:   userMsg,
		Reply:         reply,
		Selections:    pc.Selections,
		GenerationErr: generationErr,
	}
	err = metrics.measure("transition", func() error {
		validation, err := o.phases.ValidatePhaseReadiness(sess)
		if err != nil {
			return err
		}
		result.Validation = validation

		next := h.GetNextPhase()
		if !validation.IsValid || next == nil {
			if validation.IsValid && next == nil {
				// Terminal phase complete: the sprint is done.
				if err := o.store.UpdateSessionStatus(sessionID, types.SessionCompleted); err != nil {
					return fault.New(fault.CodePersistenceFailed, "orchestrator.completeSession", err).
						WithSession(sessionID, sess.CurrentPhase)
				}
				sess.Status = types.SessionCompleted
				result.SprintDone = true
				logging.Orchestrator("Session %s sprint complete", sessionID)
			}
			return nil
		}

		from := sess.CurrentPhase
		if err := o.phases.TransitionToPhase(sess, *next, validation, "phase requirements satisfied", userMsg.ID); err != nil {
			return err
		}
		result.Transitioned = true
		result.FromPhase = from
		result.ToPhase = *next
		return nil
	})
	if err != nil {
		return nil, o.timeoutOr(ctx, metrics, sessionID, err)
	}

	return result, nil
}

// buildPhaseContext loads everything the handler may need.
func (o *Orchestrator) buildPhaseContext(ctx context.Context, sess *types.Session, userMsg *types.Message) (*handler.PhaseContext, error) {
	history, err := o.store.ActiveMessages(sess.ID)
	if err != nil {
		return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.loadHistory", err).
			WithSession(sess.ID, sess.CurrentPhase)
	}

	artifacts, err := o.store.CurrentArtifacts(sess.ID)
	if err != nil {
		return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.loadArtifacts", err).
			WithSession(sess.ID, sess.CurrentPhase)
	}
	byType := make(map[types.ArtifactType]*types.Artifact, len(artifacts))
	for _, a := range artifacts {
		byType[a.ArtifactType()] = a
	}

	selections, err := o.store.ListSelections(sess.ID)
	if err != nil {
		return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.loadSelections", err).
			WithSession(sess.ID, sess.CurrentPhase)
	}

	items := make(map[string]*types.KnowledgeItem)
	if len(selections) > 0 {
		ids := make([]string, len(selections))
		for i, sel := range selections {
			ids[i] = sel.KnowledgeItemID
		}
		loaded, err := o.store.GetKnowledgeItems(ids)
		if err != nil {
			return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.loadItems", err).
				WithSession(sess.ID, sess.CurrentPhase)
		}
		for _, item := range loaded {
			items[item.ID] = item
		}
	}

	return &handler.PhaseContext{
		Ctx:        ctx,
		Session:    sess,
		Message:    userMsg,
		History:    history,
		Artifacts:  byType,
		Selections: selections,
		Items:      items,
	}, nil
}

func (o *Orchestrator) loadSession(sessionID string) (*types.Session, error) {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.CodeSessionNotFound, "orchestrator.loadSession", err).
				WithSuggestion("check the session id or start a new sprint")
		}
		return nil, fault.New(fault.CodePersistenceFailed, "orchestrator.loadSession", err)
	}
	return sess, nil
}

// timeoutOr converts a context-deadline failure into a Timeout fault;
// any other error passes through.
func (o *Orchestrator) timeoutOr(ctx context.Context, metrics *callMetrics, sessionID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return o.timeout(metrics, sessionID, 0)
	}
	return err
}

func (o *Orchestrator) timeout(metrics *callMetrics, sessionID string, p types.Phase) error {
	return fault.New(fault.CodeTimeout, "orchestrator.process",
		fmt.Errorf("pipeline exceeded %s (elapsed %s)", o.opts.RequestTimeout, metrics.total().Round(time.Millisecond))).
		WithSession(sessionID, p).
		WithSuggestion("outcome unknown; re-query the session state to see where processing stopped")
}

// markApplied flips the applied flag for frameworks the application
// phase has started working. Failures are logged, not fatal: the flag
// is bookkeeping, not state the pipeline depends on.
func (o *Orchestrator) markApplied(sessionID string, frameworkIDs []string) {
	for _, id := range frameworkIDs {
		if err := o.store.MarkSelectionApplied(sessionID, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.Get(logging.CategoryOrchestrator).Warn(
				"Could not mark selection %s applied for session %s: %v", id, sessionID, err)
		}
	}
}

// trackUsage records the LLM's reported token usage for the last call.
func (o *Orchestrator) trackUsage(sess *types.Session) {
	if o.tracker == nil {
		return
	}
	reporter, ok := o.llm.(types.UsageReporter)
	if !ok {
		return
	}
	u := reporter.LastUsage()
	if u.TotalTokens == 0 {
		return
	}
	o.tracker.Track(usage.Event{
		Model:     o.opts.Model,
		Provider:  o.opts.Provider,
		Operation: "generation",
		SessionID: sess.ID,
		Phase:     sess.CurrentPhase,
		Input:     u.InputTokens,
		Output:    u.OutputTokens,
	})
}
