package service

import (
	"github.com/shopspring/decimal"

	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/internal/domain"
)

// Settings are the business knobs shared by the loan services.
type Settings struct {
	DefaultCurrency   domain.Currency
	MaxActiveLoans    int
	PaymentTolerance  decimal.Decimal
	MaxUpdateAttempts int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultCurrency:   domain.CurrencyTRY,
		MaxActiveLoans:    0,
		PaymentTolerance:  decimal.RequireFromString("0.01"),
		MaxUpdateAttempts: 5,
	}
}

// SettingsFromConfig reads the business section of the configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := DefaultSettings()
	if currency, err := domain.ParseCurrency(cfg.Business.DefaultFineCurrency); err == nil {
		settings.DefaultCurrency = currency
	}
	settings.MaxActiveLoans = cfg.Business.MaxActiveLoans
	settings.PaymentTolerance = cfg.GetPaymentTolerance()
	if cfg.Business.MaxUpdateAttempts > 0 {
		settings.MaxUpdateAttempts = cfg.Business.MaxUpdateAttempts
	}
	return settings
}
