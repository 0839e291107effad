package memledger

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/util/atomicwrite"
)

// Seed es el estado inicial de los ledgers simulados, cargado desde YAML.
type Seed struct {
	Identities []SeedIdentity `yaml:"identities"`
	Listings   []SeedListing  `yaml:"listings"`
	// Disabled lista identidades con trading deshabilitado.
	Disabled []string `yaml:"tradingDisabled"`
}

type SeedIdentity struct {
	ID                string      `yaml:"id"`
	Owner             string      `yaml:"owner"`
	Provider          string      `yaml:"provider"`
	Type              string      `yaml:"type"`
	Status            string      `yaml:"status"`
	VerificationLevel string      `yaml:"verificationLevel"`
	Grants            []SeedGrant `yaml:"grants"`
}

type SeedGrant struct {
	Consumer   string        `yaml:"consumer"`
	Permission string        `yaml:"permission"`
	DataTypes  []string      `yaml:"dataTypes"`
	ExpiresIn  time.Duration `yaml:"expiresIn"`
}

type SeedListing struct {
	ID              string `yaml:"id"`
	Owner           string `yaml:"owner"`
	OwnerIdentityID string `yaml:"ownerIdentityId"`
	Price           uint64 `yaml:"price"`
	DataType        string `yaml:"dataType"`
	Description     string `yaml:"description"`
	Status          string `yaml:"status"`
}

// ParseSeed decodifica y valida un seed YAML.
func ParseSeed(b []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("memledger: parse seed: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSeedFile lee un seed desde disco.
func LoadSeedFile(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memledger: read seed: %w", err)
	}
	return ParseSeed(b)
}

func (s *Seed) validate() error {
	seen := map[string]bool{}
	for i, idn := range s.Identities {
		if idn.ID == "" || idn.Owner == "" {
			return fmt.Errorf("memledger: seed identity #%d needs id and owner", i)
		}
		if seen[idn.ID] {
			return fmt.Errorf("memledger: seed identity %s duplicated", idn.ID)
		}
		seen[idn.ID] = true
		switch ledger.IdentityStatus(idn.Status) {
		case "", ledger.StatusPending, ledger.StatusVerified, ledger.StatusRevoked, ledger.StatusRejected:
		default:
			return fmt.Errorf("memledger: seed identity %s: unknown status %q", idn.ID, idn.Status)
		}
		if idn.VerificationLevel != "" && !ledger.VerificationLevel(idn.VerificationLevel).Known() {
			return fmt.Errorf("memledger: seed identity %s: unknown level %q", idn.ID, idn.VerificationLevel)
		}
		for _, g := range idn.Grants {
			for _, dt := range g.DataTypes {
				if !ledger.DataType(dt).Valid() {
					return fmt.Errorf("memledger: seed identity %s: invalid data type %q", idn.ID, dt)
				}
			}
		}
	}
	for i, l := range s.Listings {
		if l.Price == 0 {
			return fmt.Errorf("memledger: seed listing #%d: %w", i, ledger.ErrInvalidPrice)
		}
		if !ledger.DataType(l.DataType).Valid() {
			return fmt.Errorf("memledger: seed listing #%d: invalid data type %q", i, l.DataType)
		}
	}
	return nil
}

// Apply carga el seed en los ledgers sin emitir eventos. Cualquiera puede ser nil.
func (s *Seed) Apply(id *IdentityLedger, tr *TradingLedger) {
	if id != nil {
		now := id.now().UTC()
		for _, si := range s.Identities {
			id.put(si.record(now))
		}
	}
	if tr != nil {
		now := tr.now().UTC()
		for _, sl := range s.Listings {
			tr.put(ledger.Listing{
				ID:              sl.ID,
				Owner:           sl.Owner,
				OwnerIdentityID: sl.OwnerIdentityID,
				Price:           sl.Price,
				DataType:        ledger.DataType(sl.DataType),
				Description:     sl.Description,
				Status:          ledger.ListingStatus(sl.Status),
				CreatedAt:       now,
			})
		}
		tr.mu.Lock()
		for _, d := range s.Disabled {
			tr.disabled[d] = true
		}
		tr.mu.Unlock()
	}
}

func (si SeedIdentity) record(now time.Time) ledger.IdentityRecord {
	rec := ledger.IdentityRecord{
		ID:                si.ID,
		Owner:             si.Owner,
		Provider:          si.Provider,
		Type:              si.Type,
		Status:            ledger.IdentityStatus(si.Status),
		VerificationLevel: ledger.VerificationLevel(si.VerificationLevel),
		CreatedAt:         now,
	}
	if rec.Status == "" {
		rec.Status = ledger.StatusPending
	}
	if rec.VerificationLevel == "" {
		rec.VerificationLevel = ledger.LevelBasic
	}
	if rec.Status == ledger.StatusVerified {
		rec.VerifiedAt = &now
	}
	for _, g := range si.Grants {
		grant := ledger.AccessGrant{
			IdentityID: si.ID,
			Consumer:   g.Consumer,
			Permission: g.Permission,
			GrantedAt:  now,
			Active:     rec.Status != ledger.StatusRevoked,
		}
		if grant.Permission == "" {
			grant.Permission = "READ"
		}
		for _, dt := range g.DataTypes {
			grant.DataTypes = append(grant.DataTypes, ledger.DataType(dt))
		}
		if g.ExpiresIn > 0 {
			exp := now.Add(g.ExpiresIn)
			grant.ExpiresAt = &exp
		}
		rec.Grants = append(rec.Grants, grant)
	}
	return rec
}

// Export vuelca el estado actual como Seed, para reanudar una simulación.
// Los grants inactivos o vencidos no se exportan; ExpiresIn queda relativo a now.
func Export(id *IdentityLedger, tr *TradingLedger) *Seed {
	s := &Seed{}
	if id != nil {
		now := id.now()
		id.mu.RLock()
		for _, rec := range id.sortedLocked() {
			si := SeedIdentity{
				ID:                rec.ID,
				Owner:             rec.Owner,
				Provider:          rec.Provider,
				Type:              rec.Type,
				Status:            string(rec.Status),
				VerificationLevel: string(rec.VerificationLevel),
			}
			for _, g := range rec.Grants {
				if !g.Usable(now) {
					continue
				}
				sg := SeedGrant{Consumer: g.Consumer, Permission: g.Permission}
				for _, dt := range g.DataTypes {
					sg.DataTypes = append(sg.DataTypes, string(dt))
				}
				if g.ExpiresAt != nil {
					sg.ExpiresIn = g.ExpiresAt.Sub(now)
				}
				si.Grants = append(si.Grants, sg)
			}
			s.Identities = append(s.Identities, si)
		}
		id.mu.RUnlock()
	}
	if tr != nil {
		tr.mu.RLock()
		for _, l := range tr.listings {
			s.Listings = append(s.Listings, SeedListing{
				ID:              l.ID,
				Owner:           l.Owner,
				OwnerIdentityID: l.OwnerIdentityID,
				Price:           l.Price,
				DataType:        string(l.DataType),
				Description:     l.Description,
				Status:          string(l.Status),
			})
		}
		for idn, off := range tr.disabled {
			if off {
				s.Disabled = append(s.Disabled, idn)
			}
		}
		tr.mu.RUnlock()
		sort.Slice(s.Listings, func(i, j int) bool { return s.Listings[i].ID < s.Listings[j].ID })
		sort.Strings(s.Disabled)
	}
	return s
}

// Marshal serializa el seed en el mismo YAML que lee ParseSeed.
func (s *Seed) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// SaveSeedFile escribe el seed de forma atómica.
func SaveSeedFile(path string, s *Seed) error {
	b, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("memledger: encode seed: %w", err)
	}
	return atomicwrite.WriteFile(path, b, 0o600)
}
