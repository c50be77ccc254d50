package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	appconfig "github.com/doeshing/shai-remote/internal/application/config"
	"github.com/doeshing/shai-remote/internal/application/doctor"
	"github.com/doeshing/shai-remote/internal/application/session"
	"github.com/doeshing/shai-remote/internal/application/suggest"
	"github.com/doeshing/shai-remote/internal/application/terminal"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/infrastructure/ai"
	"github.com/doeshing/shai-remote/internal/infrastructure/cache"
	"github.com/doeshing/shai-remote/internal/infrastructure/classifier"
	"github.com/doeshing/shai-remote/internal/infrastructure/config"
	contextcollector "github.com/doeshing/shai-remote/internal/infrastructure/context"
	"github.com/doeshing/shai-remote/internal/infrastructure/history"
	"github.com/doeshing/shai-remote/internal/infrastructure/metrics"
	"github.com/doeshing/shai-remote/internal/infrastructure/sanitize"
	"github.com/doeshing/shai-remote/internal/infrastructure/security"
	"github.com/doeshing/shai-remote/internal/infrastructure/transport"
	"github.com/doeshing/shai-remote/internal/pkg/logger"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Options tune how the container is built.
type Options struct {
	Verbose    bool
	ConfigPath string
	// Model overrides preferences.default_model for this run.
	Model string
	// Transport replaces the SSH transport; tests use it.
	Transport ports.Transport
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	Config          domain.Config
	ConfigLoader    *config.FileLoader
	Logger          ports.Logger
	Metrics         *metrics.Recorder
	SecurityService ports.SecurityService
	Generator       *suggest.Generator
	Cache           *suggest.Cache
	Suggestions     *suggest.Service
	HistoryStore    history.Store
	Sessions        *session.Manager
	Collector       *contextcollector.RemoteCollector
	DoctorService   *doctor.Service

	cacheStore *cache.SQLiteCache
}

// BuildContainer constructs the dependency graph.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Model != "" {
		if !cfg.HasModel(opts.Model) {
			return nil, fmt.Errorf("model %s not found in configuration", opts.Model)
		}
		cfg.Preferences.DefaultModel = opts.Model
	}
	if err := appconfig.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgLoader.Path(), err)
	}

	log := logger.NewStd(opts.Verbose || cfg.Preferences.Verbose)

	var guard ports.SecurityService
	if cfg.IsSecurityEnabled() {
		guardrail, err := security.NewGuardrail(cfg.Security.RulesFile)
		if err != nil {
			log.Warn("guardrail rules unreadable, using built-in rules", map[string]interface{}{
				"path":  cfg.Security.RulesFile,
				"error": err.Error(),
			})
			if guardrail, err = security.NewDefaultGuardrail(); err != nil {
				return nil, err
			}
		}
		guard = guardrail
	}

	model, err := cfg.GetDefaultModel()
	if err != nil {
		return nil, err
	}
	recorder := metrics.NewRecorder()
	generator := &suggest.Generator{
		Factory:  ai.NewFactoryWithClient(&http.Client{Timeout: cfg.GetRequestTimeout()}),
		Model:    model,
		Security: guard,
		Metrics:  recorder,
		Logger:   log,
	}

	cacheStore, err := cache.NewSQLiteCache(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	suggestionCache := suggest.NewCache(cacheStore, suggest.CacheOptions{
		TTL:        cfg.GetCacheTTL(),
		MaxEntries: cfg.GetCacheMaxEntries(),
	})

	suggestions := &suggest.Service{
		Cache:     suggestionCache,
		Generator: generator,
		Logger:    log,
		Timeout:   cfg.GetRequestTimeout(),
	}

	var historyStore history.Store
	if cfg.History.Enabled {
		historyStore = history.Open(cfg.History.Path, log)
	}

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewSSHTransport(log)
	}
	sessions := session.NewManager(tr, session.Options{
		Shell:          cfg.GetExecutionShell(),
		CommandTimeout: cfg.GetCommandTimeout(),
		Logger:         log,
		OnStateChange: func(id string, from, to domain.SessionState) {
			log.Debug("session state", map[string]interface{}{"session": id, "from": string(from), "to": string(to)})
		},
	})
	collector := contextcollector.NewRemoteCollector(log)

	c := &Container{
		Config:          cfg,
		ConfigLoader:    cfgLoader,
		Logger:          log,
		Metrics:         recorder,
		SecurityService: guard,
		Generator:       generator,
		Cache:           suggestionCache,
		Suggestions:     suggestions,
		HistoryStore:    historyStore,
		Sessions:        sessions,
		Collector:       collector,
		cacheStore:      cacheStore,
	}
	c.DoctorService = &doctor.Service{
		ConfigProvider:   cfgLoader,
		SecurityService:  guard,
		Sessions:         sessions,
		ContextCollector: collector,
	}
	if historyStore != nil {
		c.DoctorService.History = historyStore
	}
	return c, nil
}

// NewTerminal returns an orchestrator bound to the container's services.
func (c *Container) NewTerminal() (*terminal.Orchestrator, error) {
	deps := terminal.Deps{
		Sessions:        c.Sessions,
		Classifier:      classifier.New(),
		Suggester:       c.Suggestions,
		Sanitizer:       sanitize.Scanner{},
		Collector:       c.Collector,
		Logger:          c.Logger,
		AutoExecuteSafe: c.Config.ShouldAutoExecuteSafe(),
	}
	if c.HistoryStore != nil {
		deps.History = c.HistoryStore
	}
	return terminal.New(deps)
}

// ResolveHost finds target among configured hosts. Unknown targets are
// parsed as [user@]host[:port] and carry no credentials.
func (c *Container) ResolveHost(target string) (domain.HostConfig, error) {
	if target == "" {
		return c.Config.GetDefaultHost()
	}
	if host, ok := c.Config.FindHost(target); ok {
		return host, nil
	}
	return ParseTarget(target, os.Getenv("USER"))
}

// ParseTarget parses [user@]host[:port].
func ParseTarget(target, defaultUser string) (domain.HostConfig, error) {
	host := domain.HostConfig{User: defaultUser}
	if at := strings.LastIndex(target, "@"); at >= 0 {
		host.User = target[:at]
		target = target[at+1:]
	}
	if h, p, err := net.SplitHostPort(target); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return domain.HostConfig{}, fmt.Errorf("invalid port in %q", target)
		}
		host.Port = port
		target = h
	}
	host.Host = strings.TrimSuffix(strings.TrimPrefix(target, "["), "]")
	if host.Host == "" {
		return domain.HostConfig{}, errors.New("host is required")
	}
	if host.User == "" {
		return domain.HostConfig{}, fmt.Errorf("no user for %s", host.Host)
	}
	return host.WithDefaults(), nil
}

// Close releases sessions and stores.
func (c *Container) Close(ctx context.Context) error {
	if c.Sessions != nil {
		c.Sessions.DisconnectAll(ctx)
	}
	var errs []error
	if c.HistoryStore != nil {
		errs = append(errs, c.HistoryStore.Close())
	}
	if c.cacheStore != nil {
		errs = append(errs, c.cacheStore.Close())
	}
	return errors.Join(errs...)
}
