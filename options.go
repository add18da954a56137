package comdoc

import "go.uber.org/zap"

// Option configures a document as it is opened or created.
type Option func(*cfg)

type cfg struct {
	log        *zap.Logger
	validation Validation
}

func defaultCfg() *cfg {
	return &cfg{
		log:        zap.NewNop(),
		validation: ValidationPermissive,
	}
}

// WithLogger attaches a logger for structural mutations and open
// diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *cfg) {
		c.log = log
	}
}

// WithValidation selects strict or permissive checking of existing
// documents.
func WithValidation(v Validation) Option {
	return func(c *cfg) {
		c.validation = v
	}
}
