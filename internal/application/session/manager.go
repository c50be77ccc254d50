// Package session owns remote session lifecycles and runs commands under
// login-shell semantics.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

// StateObserver is told about every accepted transition.
type StateObserver func(sessionID string, from, to domain.SessionState)

// Options configures a Manager.
type Options struct {
	// Shell is the preferred login shell; fallbacks follow domain.LoginShellOrder.
	Shell string
	// CommandTimeout bounds each Execute call; zero means no limit.
	CommandTimeout time.Duration
	Logger         ports.Logger
	OnStateChange  StateObserver
	// NewID overrides session id generation.
	NewID func() string
}

// Manager tracks sessions by id. The state map has its own lock; each
// session additionally has an operation mutex that serializes connect and
// disconnect.
type Manager struct {
	transport ports.Transport
	opts      Options

	mu       sync.RWMutex
	sessions map[string]*managedSession
}

type managedSession struct {
	op      sync.Mutex
	session domain.Session
	channel ports.Channel
}

// NewManager wires a manager to its transport.
func NewManager(transport ports.Transport, opts Options) *Manager {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Shell == "" {
		opts.Shell = string(domain.ShellBash)
	}
	return &Manager{
		transport: transport,
		opts:      opts,
		sessions:  make(map[string]*managedSession),
	}
}

// Connect opens a session. On failure the session passes through Failed,
// ends Disconnected, and the error is a *domain.ConnectError.
func (m *Manager) Connect(ctx context.Context, host domain.HostConfig) (string, error) {
	host = host.WithDefaults()
	if host.Host == "" {
		return "", &domain.ConnectError{Kind: domain.ConnectProtocolError, Host: host.Name, Err: errors.New("host address is empty")}
	}

	ms := &managedSession{session: domain.Session{
		ID:         m.opts.NewID(),
		Host:       host.Host,
		Port:       host.Port,
		User:       host.User,
		AuthMethod: host.AuthMethod(),
		State:      domain.StateDisconnected,
	}}
	ms.op.Lock()
	defer ms.op.Unlock()

	id := ms.session.ID
	m.mu.Lock()
	m.sessions[id] = ms
	m.mu.Unlock()

	if err := m.transition(ms, domain.StateConnecting); err != nil {
		m.remove(id)
		return "", err
	}

	dialCtx, cancel := context.WithTimeout(ctx, host.ConnectTimeout())
	defer cancel()
	channel, err := m.transport.Connect(dialCtx, host)
	if err != nil {
		connErr := toConnectError(dialCtx, err, host)
		_ = m.transition(ms, domain.StateFailed)
		_ = m.transition(ms, domain.StateDisconnected)
		m.remove(id)
		m.logWarn("connect failed", map[string]interface{}{
			"host":  host.Address(),
			"kind":  string(connErr.Kind),
			"error": connErr.Error(),
		})
		return "", connErr
	}

	m.mu.Lock()
	ms.channel = channel
	ms.session.ConnectedAt = time.Now()
	m.mu.Unlock()
	if err := m.transition(ms, domain.StateConnected); err != nil {
		_ = channel.Disconnect()
		m.remove(id)
		return "", err
	}
	m.logInfo("session connected", map[string]interface{}{"session": id, "host": host.Address(), "user": host.User})
	return id, nil
}

// Execute runs req on a connected session wrapped in a login shell. The
// first shell that exists on the host is remembered for the session.
// Remote failures are *domain.ExecError and leave the session state
// untouched; a malformed request is rejected before anything is sent.
func (m *Manager) Execute(ctx context.Context, sessionID string, req domain.CommandRequest) (domain.CommandResult, error) {
	m.mu.RLock()
	ms, ok := m.sessions[sessionID]
	var (
		state   domain.SessionState
		channel ports.Channel
		shell   domain.ShellName
	)
	if ok {
		state, channel, shell = ms.session.State, ms.channel, ms.session.Shell
	}
	m.mu.RUnlock()

	if !ok || state != domain.StateConnected || channel == nil {
		return domain.CommandResult{}, &domain.ExecError{
			Kind:      domain.ExecNotConnected,
			SessionID: sessionID,
			Err:       fmt.Errorf("session is %s", orDisconnected(state)),
		}
	}

	if m.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.CommandTimeout)
		defer cancel()
	}

	candidates := []domain.ShellName{shell}
	if shell == "" {
		candidates = domain.ShellCandidates(m.opts.Shell)
	}

	for _, candidate := range candidates {
		line, err := WrapCommand(candidate, req)
		if err != nil {
			return domain.CommandResult{}, fmt.Errorf("wrap command: %w", err)
		}
		result, err := channel.Execute(ctx, line, req.PTY)
		if err != nil {
			return domain.CommandResult{}, toExecError(ctx, err, sessionID)
		}
		if shell == "" && ShellMissing(candidate, result) {
			m.logDebug("login shell missing, trying next", map[string]interface{}{"session": sessionID, "shell": string(candidate)})
			continue
		}
		if shell == "" {
			m.rememberShell(ms, candidate)
		}
		return result, nil
	}

	return domain.CommandResult{}, &domain.ExecError{
		Kind:      domain.ExecShellUnavailable,
		SessionID: sessionID,
		Err:       fmt.Errorf("none of %v is installed", candidates),
	}
}

// Disconnect tears a session down. It is idempotent and always leaves the
// session Disconnected; teardown errors are logged, not returned.
func (m *Manager) Disconnect(_ context.Context, sessionID string) error {
	m.mu.RLock()
	ms, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	ms.op.Lock()
	defer ms.op.Unlock()

	m.mu.RLock()
	state, channel := ms.session.State, ms.channel
	m.mu.RUnlock()

	if state == domain.StateConnected {
		if err := m.transition(ms, domain.StateDisconnecting); err != nil {
			return err
		}
		if channel != nil {
			if err := channel.Disconnect(); err != nil {
				m.logWarn("session teardown failed", map[string]interface{}{"session": sessionID, "error": err.Error()})
			}
		}
		if err := m.transition(ms, domain.StateDisconnected); err != nil {
			return err
		}
	}
	m.remove(sessionID)
	m.logInfo("session disconnected", map[string]interface{}{"session": sessionID})
	return nil
}

// DisconnectAll closes every open session.
func (m *Manager) DisconnectAll(ctx context.Context) {
	for _, s := range m.Sessions() {
		_ = m.Disconnect(ctx, s.ID)
	}
}

// State reports the state of a session; unknown ids are Disconnected.
func (m *Manager) State(sessionID string) domain.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ms, ok := m.sessions[sessionID]; ok {
		return ms.session.State
	}
	return domain.StateDisconnected
}

// Session returns a copy of the session record.
func (m *Manager) Session(sessionID string) (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return ms.session, true
}

// Sessions lists open sessions, oldest first.
func (m *Manager) Sessions() []domain.Session {
	m.mu.RLock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		out = append(out, ms.session)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) transition(ms *managedSession, to domain.SessionState) error {
	m.mu.Lock()
	from := ms.session.State
	if err := domain.ValidateTransition(from, to); err != nil {
		m.mu.Unlock()
		return err
	}
	ms.session.State = to
	id := ms.session.ID
	m.mu.Unlock()

	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(id, from, to)
	}
	return nil
}

func (m *Manager) rememberShell(ms *managedSession, shell domain.ShellName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.session.Shell == "" {
		ms.session.Shell = shell
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) logInfo(msg string, fields map[string]interface{}) {
	if m.opts.Logger != nil {
		m.opts.Logger.Info(msg, fields)
	}
}

func (m *Manager) logWarn(msg string, fields map[string]interface{}) {
	if m.opts.Logger != nil {
		m.opts.Logger.Warn(msg, fields)
	}
}

func (m *Manager) logDebug(msg string, fields map[string]interface{}) {
	if m.opts.Logger != nil {
		m.opts.Logger.Debug(msg, fields)
	}
}

func toConnectError(ctx context.Context, err error, host domain.HostConfig) *domain.ConnectError {
	var connErr *domain.ConnectError
	if errors.As(err, &connErr) {
		return connErr
	}
	kind := domain.ConnectUnreachable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = domain.ConnectTimeout
	}
	return &domain.ConnectError{Kind: kind, Host: host.Address(), Err: err}
}

func toExecError(ctx context.Context, err error, sessionID string) *domain.ExecError {
	var execErr *domain.ExecError
	if errors.As(err, &execErr) {
		if execErr.SessionID == "" {
			execErr.SessionID = sessionID
		}
		return execErr
	}
	kind := domain.ExecChannelClosed
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		kind = domain.ExecTimeout
	}
	return &domain.ExecError{Kind: kind, SessionID: sessionID, Err: err}
}

func orDisconnected(state domain.SessionState) domain.SessionState {
	if state == "" {
		return domain.StateDisconnected
	}
	return state
}

var _ ports.SessionManager = (*Manager)(nil)
