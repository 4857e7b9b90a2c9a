package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/web3ai/x402gate/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ParseConfig parses and validates a Config from JSON, applying defaults
// for unset optional fields.
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.GateError{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfig checks a Config against its struct tags plus the field
// constraints the tags cannot express, and fills defaults in place.
func ValidateConfig(config *types.Config) error {
	if config.PollAttempts == 0 {
		config.PollAttempts = types.DefaultPollAttempts
	}
	if config.PollInterval == 0 {
		config.PollInterval = types.DefaultPollInterval
	}
	if config.Tolerance == "" {
		config.Tolerance = types.DefaultTolerance
	}
	if config.Asset == "" {
		config.Asset = types.DefaultAsset
	}

	if err := validate.Struct(config); err != nil {
		return &types.GateError{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := ValidateAddress(config.ReceiverWallet); err != nil {
		return &types.GateError{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("receiverWallet: %v", err),
		}
	}
	if _, err := ValidateAmount(config.Tolerance); err != nil {
		return &types.GateError{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("tolerance: %v", err),
		}
	}
	if _, err := types.Network(config.Network).ChainID(); err != nil {
		return err
	}

	return nil
}

// ParseExpectation validates a PaymentExpectation against struct tags.
func ParseExpectation(e *types.PaymentExpectation) error {
	if err := validate.Struct(e); err != nil {
		return &types.GateError{
			Code:    types.ErrClientError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return nil
}
