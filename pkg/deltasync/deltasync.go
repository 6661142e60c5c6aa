// Package deltasync wires the configuration, clock, durable log, bus
// transport, and adapter collaborators into one running agent, mirroring
// the constructor/Shutdown shape the rest of this module's callers expect.
package deltasync

import (
	"context"
	"fmt"
	"time"

	"github.com/aas-deltasync/agent/internal/aasclient"
	"github.com/aas-deltasync/agent/internal/adapter"
	"github.com/aas-deltasync/agent/internal/agent"
	"github.com/aas-deltasync/agent/internal/bus"
	"github.com/aas-deltasync/agent/internal/config"
	"github.com/aas-deltasync/agent/internal/durable"
	"github.com/aas-deltasync/agent/internal/egress"
	"github.com/aas-deltasync/agent/internal/hlc"
	"github.com/aas-deltasync/agent/internal/logging"
	"github.com/aas-deltasync/agent/internal/metrics"
	"github.com/aas-deltasync/agent/internal/tracing"
	"github.com/aas-deltasync/agent/internal/wire"
)

// defaultAEInterval is the anti-entropy tick period when Options.AEInterval
// is left at its zero value.
const defaultAEInterval = 5 * time.Minute

// defaultPollInterval is the FA³ST poll period used for every subscription.
const defaultPollInterval = 10 * time.Second

// Options configures an Agent instance: the parsed AgentConfig plus the
// runtime settings the environment does not carry (anti-entropy interval,
// log level and format, egress on/off). A caller can fill Config by hand to
// construct an Agent directly (tests, embedders) without populating the
// process environment.
type Options struct {
	Config       *config.AgentConfig
	AEInterval   time.Duration
	LogLevel     string
	LogFormat    string
	EnableEgress bool
}

// FromEnv loads Options from the DELTASYNC_* environment variables, failing
// fast on any Config-class error.
func FromEnv() (Options, error) {
	cfg, err := config.Load()
	if err != nil {
		return Options{}, err
	}
	return Options{Config: cfg, LogLevel: "info", LogFormat: "json", EnableEgress: true}, nil
}

// Agent is the public handle to a running synchronization agent: it owns
// the durable log, bus connection, and background goroutines started by
// Run, and must be stopped with Shutdown.
type Agent struct {
	core           *agent.Agent
	bus            *bus.Bus
	store          *durable.Store
	log            *logging.Logger
	metrics        *metrics.Metrics
	tracerProvider *tracing.TracerProvider
	pollers        []*adapter.Poller

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Agent from opts: opens the durable store, dials the
// replication bus, constructs one AAS client shared by every subscription
// and one adapter per subscription, and registers every subscribed
// document. It does not start the event loop; call Run for that.
func New(ctx context.Context, opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("deltasync: Options.Config is required")
	}
	cfg := opts.Config

	level := opts.LogLevel
	if level == "" {
		level = "info"
	}
	format := opts.LogFormat
	if format == "" {
		format = "json"
	}
	log, err := logging.NewLogger(level, format)
	if err != nil {
		return nil, fmt.Errorf("deltasync: build logger: %w", err)
	}

	store, err := durable.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("deltasync: open durable store: %w", err)
	}

	b, err := bus.Dial(cfg.MQTTBroker, "deltasync-"+cfg.AgentID.String(), log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("deltasync: dial bus: %w", err)
	}

	m := metrics.NewMetrics()
	clock := hlc.New(cfg.AgentID)
	scheme := wire.NewTopicScheme(cfg.Tenant)
	aeInterval := opts.AEInterval
	if aeInterval == 0 {
		aeInterval = defaultAEInterval
	}

	core := agent.New(clock, b, store, scheme, log, m, aeInterval)

	if cfg.SigningPassphrase != "" {
		kp, err := wire.DeriveSignerKeyPair(cfg.SigningPassphrase, []byte(cfg.Tenant))
		if err != nil {
			store.Close()
			b.Close()
			return nil, fmt.Errorf("deltasync: derive signing key pair: %w", err)
		}
		core.SetSigner(kp)
	}

	if cfg.BearerToken != "" {
		if exp, err := cfg.BearerTokenExpiry(); err != nil {
			log.Debug("deltasync: bearer token expiry not readable", "error", err)
		} else if time.Now().After(exp) {
			log.Warn("deltasync: configured bearer token is already expired", "expired_at", exp)
		} else {
			log.Info("deltasync: bearer token valid", "expires_at", exp)
		}
	}

	smClient, err := aasclient.NewTLS(aasclient.Config{
		BaseURL:        cfg.SMRepoURL,
		Timeout:        30 * time.Second,
		BearerToken:    cfg.BearerToken,
		CACertFile:     cfg.CACertFile,
		ClientCertFile: cfg.ClientCertFile,
		ClientKeyFile:  cfg.ClientKeyFile,
	})
	if err != nil {
		store.Close()
		b.Close()
		return nil, fmt.Errorf("deltasync: build AAS client: %w", err)
	}

	a := &Agent{core: core, bus: b, store: store, log: log, metrics: m}

	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracer("aas-deltasync-agent", cfg.JaegerEndpoint)
		if err != nil {
			log.Warn("deltasync: failed to init tracer, continuing without spans", "error", err)
		} else {
			a.tracerProvider = tp
		}
	}

	for _, sub := range cfg.Subscriptions {
		docID := agent.DocIDForSubmodel(sub.AasID, sub.SubmodelID)
		if err := core.Subscribe(docID, sub.SubmodelID); err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("deltasync: subscribe %s: %w", docID, err)
		}

		if opts.EnableEgress {
			core.AddEgressWriter(sub.SubmodelID, egress.New(smClient, sub.SubmodelID, log, m))
		}

		switch cfg.AdapterType {
		case config.AdapterBasyx:
			a.wireBasyxIngress(sub.SubmodelID)
		case config.AdapterFaaast:
			if err := a.wirePoller(smClient, cfg.SMRepoURL, clock, sub.SubmodelID); err != nil {
				a.Shutdown()
				return nil, fmt.Errorf("deltasync: start poller for %s: %w", sub.SubmodelID, err)
			}
		}
	}

	return a, nil
}

// wireBasyxIngress subscribes to the BaSyx MQTT event topic for submodelID
// and forwards every parsed event into the core agent's ingress channel.
func (a *Agent) wireBasyxIngress(submodelID string) {
	filter := "sm-repository/+/submodels/+/submodelElements/#"
	a.bus.OnMessage(filter, func(topic string, payload []byte) {
		ev, err := adapter.ParseBasyxEvent(topic, payload)
		if err != nil {
			a.log.Warn("deltasync: dropping unparseable BaSyx event", "topic", topic, "error", err)
			return
		}
		if ev.SubmodelID != submodelID {
			return
		}
		a.core.IngestBasyxEvent(context.Background(), ev)
	})
	if err := a.bus.Subscribe(filter); err != nil {
		a.log.Warn("deltasync: failed to subscribe to BaSyx event topic", "filter", filter, "error", err)
	}
}

// wirePoller starts a FA³ST-style poller for submodelID, forwarding each
// detected batch of changes into the core agent's ingress channel.
func (a *Agent) wirePoller(client *aasclient.Client, baseURL string, clock *hlc.Clock, submodelID string) error {
	poller, err := adapter.NewPoller(client, baseURL, adapter.PollerConfig{
		SubmodelID:   submodelID,
		PollInterval: defaultPollInterval,
	}, clock, func(changes []adapter.Change) {
		a.core.IngestPollChanges(context.Background(), submodelID, changes)
	})
	if err != nil {
		return err
	}
	a.pollers = append(a.pollers, poller)
	return nil
}

// Run starts the core event loop and every configured poller, blocking
// until ctx is cancelled or Shutdown is called.
func (a *Agent) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	defer close(a.done)

	for _, p := range a.pollers {
		go p.Run(runCtx, func(err error) {
			a.log.Warn("deltasync: poll error", "error", err)
		})
	}

	return a.core.Run(runCtx)
}

// Shutdown cancels the running event loop (if Run was called), closes the
// bus connection, and closes the durable store. It is safe to call even if
// Run was never started.
func (a *Agent) Shutdown() error {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	if a.tracerProvider != nil {
		_ = a.tracerProvider.Shutdown(context.Background())
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
