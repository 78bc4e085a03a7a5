package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pricewatch/price-scraper/internal/steps"
)

var ErrNotFound = errors.New("not found")

// ConfigStore reads and writes versioned per-domain step configurations.
// The core only ever consumes the newest active snapshot; edits create new
// versions and never touch rows an in-flight run may have read.
type ConfigStore struct {
	db     *DB
	logger *slog.Logger
}

func NewConfigStore(db *DB, logger *slog.Logger) *ConfigStore {
	return &ConfigStore{db: db, logger: logger.With("component", "config_store")}
}

// ActiveConfig returns the active StepConfig snapshot for a domain, parsed
// and validated.
func (s *ConfigStore) ActiveConfig(ctx context.Context, domain string) (*steps.Document, error) {
	query := `
		SELECT config, created_at, updated_at
		FROM domain_configs
		WHERE domain = $1 AND active = true
		ORDER BY version DESC
		LIMIT 1
	`

	var raw []byte
	var createdAt time.Time
	var updatedAt *time.Time
	err := s.db.QueryRow(ctx, query, domain).Scan(&raw, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no configuration for domain %s", ErrNotFound, domain)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", domain, err)
	}

	var body steps.Config
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: stored config for %s is not valid JSON: %v",
			steps.ErrConfigInvalid, domain, err)
	}

	doc := &steps.Document{
		Domain:    domain,
		Config:    body,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveConfig validates and stores a new version of a domain's
// configuration, deactivating previous versions in the same transaction.
func (s *ConfigStore) SaveConfig(ctx context.Context, doc *steps.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(doc.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE domain_configs SET active = false WHERE domain = $1 AND active = true`,
			doc.Domain); err != nil {
			return fmt.Errorf("failed to deactivate previous versions: %w", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO domain_configs (domain, config, active, version, created_at)
			VALUES ($1, $2, true,
				COALESCE((SELECT MAX(version) FROM domain_configs WHERE domain = $1), 0) + 1,
				NOW())
		`, doc.Domain, raw)
		if err != nil {
			return fmt.Errorf("failed to insert config: %w", err)
		}
		return nil
	})
}

// ListDomains returns every domain with an active configuration.
func (s *ConfigStore) ListDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT domain FROM domain_configs WHERE active = true ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			continue
		}
		domains = append(domains, d)
	}
	return domains, nil
}

// countryConfig is the stored per-country document. The VAT rate is stored
// as a percentage (21, not 0.21), matching how operators enter it.
type countryConfig struct {
	VATRate        float64 `json:"vat_rate"`
	Currency       string  `json:"currency"`
	CurrencySymbol string  `json:"currency_symbol"`
}

// CountryRates answers VAT and currency questions for a country code.
type CountryRates struct {
	db     *DB
	logger *slog.Logger
}

func NewCountryRates(db *DB, logger *slog.Logger) *CountryRates {
	return &CountryRates{db: db, logger: logger.With("component", "country_rates")}
}

// VATRate returns the fractional VAT rate (0.21 for 21%) and the currency
// for a country.
func (c *CountryRates) VATRate(ctx context.Context, country string) (float64, string, error) {
	var raw []byte
	err := c.db.QueryRow(ctx,
		`SELECT config FROM country_configs WHERE country_code = $1`, country).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: no configuration for country %s", ErrNotFound, country)
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to load country config for %s: %w", country, err)
	}

	var cfg countryConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return 0, "", fmt.Errorf("country config for %s is not valid JSON: %w", country, err)
	}
	return cfg.VATRate / 100, cfg.Currency, nil
}

// Package is a shipping preset: fixed dimensions and quantity standing in
// for a typical parcel size.
type Package struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ThicknessMM float64 `json:"thickness"`
	LengthMM    float64 `json:"length"`
	WidthMM     float64 `json:"width"`
	Quantity    int     `json:"quantity"`
	Display     string  `json:"display"`
}

// PackageStore reads shipping package presets (package types 1-6).
type PackageStore struct {
	db *DB
}

func NewPackageStore(db *DB) *PackageStore {
	return &PackageStore{db: db}
}

func (p *PackageStore) Get(ctx context.Context, packageID string) (*Package, error) {
	var raw []byte
	err := p.db.QueryRow(ctx,
		`SELECT config FROM package_configs WHERE package_id = $1`, packageID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no package preset %s", ErrNotFound, packageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load package %s: %w", packageID, err)
	}

	var pkg Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("package config %s is not valid JSON: %w", packageID, err)
	}
	return &pkg, nil
}

// Settings is the key/value store for externally managed configuration
// such as the captcha solver API key.
type Settings struct {
	db *DB
}

func NewSettings(db *DB) *Settings {
	return &Settings{db: db}
}

func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: setting %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}
