package options

import (
	"fmt"

	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/context"
)

// CmdOption configures the collaborators a command uses.
type CmdOption func(*CmdOptions) error

// CmdOptions holds the collaborators commands load configuration with.
type CmdOptions struct {
	ConfigLoader      config.Loader
	ConfigInitializer config.Initializer
	ContextLoader     context.Loader
}

func defaultOptions() CmdOptions {
	configLoader := &config.DefaultLoader{}
	return CmdOptions{
		ConfigLoader:      configLoader,
		ConfigInitializer: configLoader,
		ContextLoader:     &context.DefaultLoader{},
	}
}

// NewOptions applies opt on top of the defaults.
func NewOptions(opt ...CmdOption) (CmdOptions, error) {
	opts := defaultOptions()

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(&opts); err != nil {
			return CmdOptions{}, err
		}
	}
	return opts, nil
}

func WithConfigLoader(l config.Loader) CmdOption {
	return func(o *CmdOptions) error {
		if l == nil {
			return fmt.Errorf("config loader cannot be nil")
		}
		o.ConfigLoader = l
		return nil
	}
}

func WithConfigInitializer(i config.Initializer) CmdOption {
	return func(o *CmdOptions) error {
		if i == nil {
			return fmt.Errorf("config initializer cannot be nil")
		}
		o.ConfigInitializer = i
		return nil
	}
}

func WithContextLoader(l context.Loader) CmdOption {
	return func(o *CmdOptions) error {
		if l == nil {
			return fmt.Errorf("context loader cannot be nil")
		}
		o.ContextLoader = l
		return nil
	}
}
