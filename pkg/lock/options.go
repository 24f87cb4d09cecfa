package lock

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	DefaultRoot     = "/locks"
	DefaultPrefix   = "seq-"
	DefaultRootData = "locks"
)

type Options struct {
	// name prefix of contender nodes, the service appends the sequence
	Prefix string
	// owner id written as contender node data, a random UUID if empty
	Owner string
	// data the root node is created with
	RootData []byte
	// pause between creating the contender and listing the root, zero by
	// default since a session reads its own writes
	SettleDelay time.Duration
	Logger      hclog.Logger
}

type Option func(o *Options)

func defaultOptions() Options {
	return Options{
		Prefix:   DefaultPrefix,
		RootData: []byte(DefaultRootData),
	}
}

func newOptions(opts ...Option) Options {
	options := defaultOptions()
	for _, o := range opts {
		o(&options)
	}

	if options.Owner == "" {
		options.Owner = uuid.NewString()
	}
	if options.Logger == nil {
		options.Logger = hclog.NewNullLogger()
	}

	return options
}

// WithPrefix sets the contender node name prefix
func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithOwner sets the owner id stored in contender nodes
func WithOwner(owner string) Option {
	return func(o *Options) {
		o.Owner = owner
	}
}

// WithRootData sets the data a missing root node is created with
func WithRootData(data []byte) Option {
	return func(o *Options) {
		o.RootData = data
	}
}

// WithSettleDelay pauses between contender creation and the first listing
func WithSettleDelay(d time.Duration) Option {
	return func(o *Options) {
		o.SettleDelay = d
	}
}

// WithLogger sets the logger
func WithLogger(logger hclog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
