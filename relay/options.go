package relay

import "time"

// Limits bounds the subscription count per connection: Subscribe refuses a
// new subscription once MaxSubscriptions are open. MaxMessageSize is not
// read by Relay; the inbound frame size limit is the one the Transport
// applies itself (transport.Driver.MaxMessageSize).
type Limits struct {
	MaxMessageSize  int64 `env:"MAX_MESSAGE_SIZE" envDefault:"524288"`
	MaxSubscriptions int   `env:"MAX_SUBSCRIPTIONS" envDefault:"128"`
}

// Options enumerates the tunable knobs a Relay honours. No other option
// is honoured.
type Options struct {
	ConnectionTimeout   time.Duration `env:"CONNECTION_TIMEOUT" envDefault:"30s"`
	SendTimeout         time.Duration `env:"SEND_TIMEOUT" envDefault:"20s"`
	InitialBackoff      time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff          time.Duration `env:"MAX_BACKOFF" envDefault:"60s"`
	Reconnect           bool          `env:"RECONNECT" envDefault:"true"`
	MaxAvgLatency       time.Duration `env:"MAX_AVG_LATENCY" envDefault:"500ms"`
	PingInterval        time.Duration `env:"PING_INTERVAL" envDefault:"55s"`
	AdjustRetryInterval bool          `env:"ADJUST_RETRY_INTERVAL" envDefault:"true"`
	Limits              Limits
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ConnectionTimeout:   30 * time.Second,
		SendTimeout:         20 * time.Second,
		InitialBackoff:      1 * time.Second,
		MaxBackoff:          60 * time.Second,
		Reconnect:           true,
		MaxAvgLatency:       500 * time.Millisecond,
		PingInterval:        55 * time.Second,
		AdjustRetryInterval: true,
		Limits: Limits{
			MaxMessageSize:   512 * 1024,
			MaxSubscriptions: 128,
		},
	}
}

// minHealthy is the uptime a connection must sustain before the backoff
// exponent resets to zero.
const minHealthy = 30 * time.Second
