package memledger

import "fmt"

// PairConfig arma los dos ledgers simulados juntos.
type PairConfig struct {
	// SigningSeed Ed25519 de 32 bytes; vacío genera una clave.
	SigningSeed []byte
	Marketplace MarketplaceConfig
	// SeedFile opcional (YAML), se aplica sin emitir eventos.
	SeedFile string
}

// NewPair crea identidad + trading con el trading confiando en la clave del
// ledger de identidades.
func NewPair(cfg PairConfig, opts ...Option) (*IdentityLedger, *TradingLedger, error) {
	if len(cfg.SigningSeed) > 0 {
		opts = append(opts, WithSigningSeed(cfg.SigningSeed))
	}
	id, err := NewIdentityLedger(opts...)
	if err != nil {
		return nil, nil, err
	}
	cfg.Marketplace.TrustedIssuer = id.PublicKey()
	tr, err := NewTradingLedger(cfg.Marketplace, opts...)
	if err != nil {
		return nil, nil, err
	}
	if cfg.SeedFile != "" {
		s, err := LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, nil, fmt.Errorf("memledger: seed %s: %w", cfg.SeedFile, err)
		}
		s.Apply(id, tr)
	}
	return id, tr, nil
}
