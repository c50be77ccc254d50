// Package terminal drives one remote terminal: it classifies each input
// line, runs commands on the current session, and turns questions into
// pending suggestions. All remote work is asynchronous; observers read an
// explicit State snapshot or subscribe to changes.
package terminal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

var (
	// ErrNoPendingSuggestion is returned when there is nothing to accept.
	ErrNoPendingSuggestion = errors.New("no pending suggestion")
	// ErrSuggestionBlocked is returned when a guardrail blocked the pending suggestion.
	ErrSuggestionBlocked = errors.New("suggestion blocked by guardrail")
)

// Deps are the collaborators an Orchestrator is built from. History and
// Collector are optional.
type Deps struct {
	Sessions   ports.SessionManager
	Classifier ports.IntentClassifier
	Suggester  ports.Suggester
	Sanitizer  ports.OutputSanitizer
	Collector  ports.ContextCollector
	History    ports.HistoryRepository
	Logger     ports.Logger

	// AutoExecuteSafe runs suggestions that do not require confirmation
	// without an acceptance step.
	AutoExecuteSafe bool

	Now   func() time.Time
	NewID func() string
}

// State is a point-in-time copy of everything a presentation layer shows.
type State struct {
	SessionID    string
	SessionState domain.SessionState
	Host         string
	Context      domain.ContextSnapshot
	Pending      *domain.PendingSuggestion
	Generating   bool
	Running      int
	LastError    string
	History      []domain.HistoryItem
}

// Orchestrator owns the current session id, the pending suggestion, the
// context snapshot and the ordered history. Its lock is never held while
// calling into the session manager or the suggester.
type Orchestrator struct {
	deps Deps

	// op serializes Connect and Disconnect so a session is never orphaned.
	op sync.Mutex

	mu         sync.Mutex
	sessionID  string
	host       string
	snapshot   domain.ContextSnapshot
	pending    *domain.PendingSuggestion
	history    []domain.HistoryItem
	running    int
	generating bool
	lastErr    string
	genSeq     uint64
	cancelGen  context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int

	wg sync.WaitGroup
}

// New validates deps and returns an idle orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Sessions == nil || deps.Classifier == nil || deps.Suggester == nil ||
		deps.Sanitizer == nil || deps.Logger == nil {
		return nil, errors.New("terminal.Orchestrator dependencies not satisfied")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Orchestrator{deps: deps, subs: make(map[int]chan State)}, nil
}

// Connect opens a session to host, replacing any current one, and probes
// its environment.
func (o *Orchestrator) Connect(ctx context.Context, host domain.HostConfig) error {
	o.op.Lock()
	defer o.op.Unlock()

	if err := o.disconnect(ctx); err != nil {
		o.deps.Logger.Warn("closing previous session failed", map[string]interface{}{"error": err.Error()})
	}

	id, err := o.deps.Sessions.Connect(ctx, host)
	if err != nil {
		o.mu.Lock()
		o.lastErr = err.Error()
		o.mu.Unlock()
		o.publish()
		return err
	}

	snapshot := domain.ContextSnapshot{}
	if o.deps.Collector != nil {
		snapshot = o.deps.Collector.Collect(ctx, o.deps.Sessions, id)
	}

	o.mu.Lock()
	o.sessionID = id
	o.host = host.WithDefaults().Name
	o.snapshot = snapshot
	o.lastErr = ""
	o.mu.Unlock()
	o.publish()

	o.deps.Logger.Info("terminal attached", map[string]interface{}{
		"session": id,
		"host":    host.Address(),
		"os":      snapshot.OS,
		"shell":   snapshot.Shell,
	})
	return nil
}

// Disconnect closes the current session. Outstanding generation is
// cancelled and the pending suggestion dropped.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.op.Lock()
	defer o.op.Unlock()
	return o.disconnect(ctx)
}

func (o *Orchestrator) disconnect(ctx context.Context) error {
	o.mu.Lock()
	id := o.sessionID
	o.sessionID = ""
	o.host = ""
	o.snapshot = domain.ContextSnapshot{}
	o.pending = nil
	o.stopGenerationLocked()
	o.mu.Unlock()

	if id == "" {
		return nil
	}
	err := o.deps.Sessions.Disconnect(ctx, id)
	o.publish()
	return err
}

// Submit classifies input and dispatches it. It returns once the
// classification is known; the resulting work runs in the background.
// Blank input is classified but not dispatched.
func (o *Orchestrator) Submit(ctx context.Context, input string) domain.Classification {
	o.mu.Lock()
	snapshot := o.snapshot
	o.mu.Unlock()

	classification := o.deps.Classifier.Classify(input, snapshot)
	text := o.deps.Classifier.Strip(input)
	if text == "" {
		return classification
	}

	o.deps.Logger.Debug("input classified", map[string]interface{}{
		"type":       string(classification.Type),
		"confidence": classification.Confidence,
		"reason":     classification.Reason,
	})

	if classification.IsCommand() {
		o.Execute(ctx, text)
	} else {
		o.Suggest(ctx, text)
	}
	return classification
}

// Execute runs command on the current session in the background. Every
// call yields exactly one history item, appended when it completes.
func (o *Orchestrator) Execute(ctx context.Context, command string) {
	o.execute(ctx, command, domain.SourceDirect)
}

func (o *Orchestrator) execute(ctx context.Context, command string, source domain.HistorySource) {
	o.mu.Lock()
	sessionID, host := o.sessionID, o.host
	o.running++
	o.mu.Unlock()
	o.publish()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		item := o.run(ctx, sessionID, host, command, source)

		o.mu.Lock()
		o.history = append(o.history, item)
		o.running--
		o.mu.Unlock()

		o.persist(ctx, item)
		o.publish()
	}()
}

func (o *Orchestrator) run(ctx context.Context, sessionID, host, command string, source domain.HistorySource) domain.HistoryItem {
	item := domain.HistoryItem{
		ID:        o.deps.NewID(),
		SessionID: sessionID,
		Host:      host,
		Command:   command,
		Source:    source,
		ExitCode:  domain.FailedExitCode,
	}

	var (
		result domain.CommandResult
		err    error
	)
	if sessionID == "" {
		err = &domain.ExecError{Kind: domain.ExecNotConnected, Err: errors.New("no session")}
	} else {
		result, err = o.deps.Sessions.Execute(ctx, sessionID, domain.CommandRequest{Command: command})
	}
	item.Timestamp = o.deps.Now()

	if err != nil {
		item.Error = o.deps.Sanitizer.Sanitize(err.Error())
		o.deps.Logger.Warn("command failed", map[string]interface{}{"session": sessionID, "command": command, "error": item.Error})
		return item
	}
	item.Output = o.deps.Sanitizer.Sanitize(result.Stdout)
	item.Error = o.deps.Sanitizer.Sanitize(result.Stderr)
	item.ExitCode = result.ExitCode
	o.deps.Logger.Debug("command finished", map[string]interface{}{
		"session":   sessionID,
		"exit_code": result.ExitCode,
		"duration":  result.Duration.String(),
	})
	return item
}

// Suggest asks for a suggestion in the background. A newer call cancels
// this one; a result that arrives after being superseded is dropped.
func (o *Orchestrator) Suggest(ctx context.Context, query string) {
	genCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.stopGenerationLocked()
	o.genSeq++
	seq := o.genSeq
	o.cancelGen = cancel
	o.generating = true
	o.pending = nil
	snapshot := o.snapshot
	o.mu.Unlock()
	o.publish()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		pending, err := o.deps.Suggester.Suggest(genCtx, query, snapshot)

		o.mu.Lock()
		if seq != o.genSeq {
			o.mu.Unlock()
			o.deps.Logger.Debug("discarding superseded suggestion", map[string]interface{}{"query": query})
			return
		}
		o.generating = false
		o.cancelGen = nil
		if err != nil {
			o.lastErr = err.Error()
			o.mu.Unlock()
			o.deps.Logger.Warn("suggestion failed", map[string]interface{}{"query": query, "error": err.Error()})
			o.publish()
			return
		}
		risk := pending.Suggestion.Risk
		autoRun := o.deps.AutoExecuteSafe && !risk.RequiresConfirmation && !risk.Blocked
		if autoRun {
			o.pending = nil
		} else {
			o.pending = &pending
		}
		o.lastErr = ""
		o.mu.Unlock()

		if autoRun {
			o.deps.Logger.Debug("auto-executing suggestion", map[string]interface{}{"command": pending.Suggestion.Command})
			o.accept(ctx, pending)
		}
		o.publish()
	}()
}

// AcceptSuggestion is the explicit acceptance step: it records the
// acceptance and runs the pending command. Blocked suggestions stay
// pending and are never run.
func (o *Orchestrator) AcceptSuggestion(ctx context.Context) error {
	o.mu.Lock()
	pending := o.pending
	if pending == nil {
		o.mu.Unlock()
		return ErrNoPendingSuggestion
	}
	if pending.Suggestion.Risk.Blocked {
		o.mu.Unlock()
		return ErrSuggestionBlocked
	}
	o.pending = nil
	o.mu.Unlock()

	o.accept(ctx, *pending)
	o.publish()
	return nil
}

func (o *Orchestrator) accept(ctx context.Context, pending domain.PendingSuggestion) {
	if err := o.deps.Suggester.Accept(ctx, pending); err != nil {
		o.deps.Logger.Warn("recording acceptance failed", map[string]interface{}{"cache_id": pending.CacheID, "error": err.Error()})
	}
	o.execute(ctx, pending.Suggestion.Command, domain.SourceSuggestion)
}

// RejectSuggestion drops the pending suggestion. It reports whether there
// was one.
func (o *Orchestrator) RejectSuggestion() bool {
	o.mu.Lock()
	had := o.pending != nil
	o.pending = nil
	o.mu.Unlock()
	if had {
		o.publish()
	}
	return had
}

// Snapshot copies the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	state := State{
		SessionID:  o.sessionID,
		Host:       o.host,
		Context:    o.snapshot,
		Generating: o.generating,
		Running:    o.running,
		LastError:  o.lastErr,
		History:    append([]domain.HistoryItem(nil), o.history...),
	}
	if o.pending != nil {
		pending := *o.pending
		state.Pending = &pending
	}
	o.mu.Unlock()

	state.SessionState = domain.StateDisconnected
	if state.SessionID != "" {
		state.SessionState = o.deps.Sessions.State(state.SessionID)
	}
	return state
}

// Subscribe returns a channel that always holds the latest State. Slow
// readers miss intermediate states, never the last one. cancel closes the
// channel.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			close(ch)
			o.subMu.Unlock()
		})
	}
}

// Wait blocks until all background work has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels generation, waits for running commands and disconnects.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.stopGenerationLocked()
	o.mu.Unlock()
	o.Wait()
	return o.Disconnect(ctx)
}

// stopGenerationLocked cancels the outstanding generation; its result will
// be discarded because genSeq moves on.
func (o *Orchestrator) stopGenerationLocked() {
	if o.cancelGen != nil {
		o.cancelGen()
		o.cancelGen = nil
	}
	if o.generating {
		o.genSeq++
		o.generating = false
	}
}

func (o *Orchestrator) persist(ctx context.Context, item domain.HistoryItem) {
	if o.deps.History == nil {
		return
	}
	if err := o.deps.History.Append(context.WithoutCancel(ctx), item); err != nil {
		o.deps.Logger.Warn("history append failed", map[string]interface{}{"id": item.ID, "error": err.Error()})
	}
}

// publish pushes a fresh snapshot to every subscriber. Building the
// snapshot under subMu keeps deliveries in mutation order.
func (o *Orchestrator) publish() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if len(o.subs) == 0 {
		return
	}
	state := o.Snapshot()
	for _, ch := range o.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Commands lists the history commands, oldest first.
func (s State) Commands() []string {
	out := make([]string, len(s.History))
	for i, item := range s.History {
		out[i] = item.Command
	}
	return out
}

// Prompt renders a short user@host:dir prompt for the current session.
func (s State) Prompt() string {
	if s.SessionID == "" {
		return "(disconnected)"
	}
	var b strings.Builder
	if s.Context.User != "" {
		b.WriteString(s.Context.User)
		b.WriteByte('@')
	}
	b.WriteString(s.Host)
	if s.Context.WorkingDir != "" {
		b.WriteByte(':')
		b.WriteString(s.Context.WorkingDir)
	}
	return b.String()
}
