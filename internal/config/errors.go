package config

import (
	"errors"

	"github.com/okian/telewatch/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrInvalidConfig is the domain configuration error so callers can test
	// either name.
	ErrInvalidConfig = model.ErrConfiguration
	ErrLoadConfig    = errors.New("load config failed")
)
