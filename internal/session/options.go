package session

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/anchor"
	"github.com/dreamware/sharedorigin/internal/cluster"
	"github.com/dreamware/sharedorigin/internal/retry"
)

// DefaultObserverID is the client whose first sync completes the session
// setup.
const DefaultObserverID cluster.PeerID = 2

type options struct {
	log            *zap.Logger
	clock          clockwork.Clock
	anchorCfg      anchor.Config
	observerID     cluster.PeerID
	healthInterval time.Duration
	healthCheck    func(addr string) error
	setupRetry     retry.Policy
}

func defaultOptions() options {
	return options{
		log:            zap.NewNop(),
		clock:          clockwork.NewRealClock(),
		anchorCfg:      anchor.DefaultConfig(),
		observerID:     DefaultObserverID,
		healthInterval: 5 * time.Second,
		setupRetry:     retry.Default(),
	}
}

// Opt configures a HostController or ClientController.
type Opt func(*options)

// WithLogger sets the logger passed down to every component.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		o.log = logger
	}
}

// WithClock sets the clock used by the coordinator and the health monitor.
func WithClock(clock clockwork.Clock) Opt {
	return func(o *options) {
		o.clock = clock
	}
}

// WithAnchorConfig configures the coordinator built by the controller.
func WithAnchorConfig(cfg anchor.Config) Opt {
	return func(o *options) {
		o.anchorCfg = cfg
	}
}

// WithObserverID selects the client whose first sync triggers session
// setup on the host.
func WithObserverID(id cluster.PeerID) Opt {
	return func(o *options) {
		o.observerID = id
	}
}

// WithHealthInterval sets how often the host checks each client.
func WithHealthInterval(d time.Duration) Opt {
	return func(o *options) {
		o.healthInterval = d
	}
}

// WithHealthCheck replaces the HTTP check of the host health monitor.
func WithHealthCheck(check func(addr string) error) Opt {
	return func(o *options) {
		o.healthCheck = check
	}
}

// WithSetupRetry sets the policy for anchor creation on the host and for
// joining on a client.
func WithSetupRetry(p retry.Policy) Opt {
	return func(o *options) {
		o.setupRetry = p
	}
}

func (o *options) coordinatorOpts() []anchor.Opt {
	return []anchor.Opt{
		anchor.WithLogger(o.log),
		anchor.WithClock(o.clock),
		anchor.WithConfig(o.anchorCfg),
	}
}
