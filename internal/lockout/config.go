package lockout

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the lockout policy and storage call limits.
type Config struct {
	// Threshold is the failure count that triggers a block.
	Threshold int `validate:"min=1"`
	// BlockDuration is how long a key stays locked out.
	BlockDuration time.Duration `validate:"gt=0"`
	// ResetOnSuccess clears the counter after a successful verification.
	ResetOnSuccess bool
	// StoreTimeout bounds every storage call; zero means no extra deadline.
	StoreTimeout time.Duration `validate:"gte=0"`
	// MaxRetries is how many times a conflicting upsert is retried.
	MaxRetries int `validate:"gte=0"`
}

// DefaultConfig returns 10 failures / 2h block, reset on success.
func DefaultConfig() Config {
	return Config{
		Threshold:      10,
		BlockDuration:  2 * time.Hour,
		ResetOnSuccess: true,
		StoreTimeout:   2 * time.Second,
		MaxRetries:     3,
	}
}

var validate = validator.New()

// Validate checks value ranges.
func (c Config) Validate() error {
	return validate.Struct(c)
}

func (c Config) policy() Policy {
	return Policy{Threshold: c.Threshold, BlockDuration: c.BlockDuration}
}
