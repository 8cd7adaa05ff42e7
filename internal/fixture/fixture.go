// Package fixture declares the synthetic objects one verification run
// creates, checks on every replica, and deletes again.
package fixture

import (
	"fmt"
	"net"

	"adconverge/internal/config"
)

type Kind string

const (
	KindOU       Kind = "organizational_unit"
	KindGroup    Kind = "group"
	KindComputer Kind = "computer"
	KindPolicy   Kind = "policy_object"
	KindDNS      Kind = "dns_record"
	KindFeature  Kind = "host_feature"
)

// Fixture is one synthetic object. Identity is derived from configuration
// before creation so the same value addresses the object at creation, lookup
// and deletion time.
type Fixture struct {
	Kind     Kind
	Identity string

	// Directory kinds only.
	Name string

	// DNS kind only.
	Host string
	IP   string
	Zone string
	TTL  int
}

// Directory reports whether the fixture lives in the directory service, as
// opposed to DNS or the local host.
func (f Fixture) Directory() bool {
	switch f.Kind {
	case KindOU, KindGroup, KindComputer, KindPolicy:
		return true
	}
	return false
}

// Catalog derives the ordered fixture set for one run. Order is creation
// order; deletion happens in reverse so contained objects go before their OU.
// The DNS fixture is included only when withDNS is set, the capability gate
// decided once at run start.
func Catalog(cfg *config.Config, withDNS bool) ([]Fixture, error) {
	fx := cfg.Fixtures
	base := cfg.Directory.BaseDN

	if fx.OU == "" {
		return nil, fmt.Errorf("%w: fixtures.ou required", config.ErrInvalid)
	}
	if fx.Group == "" {
		return nil, fmt.Errorf("%w: fixtures.group required", config.ErrInvalid)
	}
	if fx.Computer == "" {
		return nil, fmt.Errorf("%w: fixtures.computer required", config.ErrInvalid)
	}
	if fx.Policy == "" {
		return nil, fmt.Errorf("%w: fixtures.policy required", config.ErrInvalid)
	}
	if fx.Feature == "" {
		return nil, fmt.Errorf("%w: fixtures.feature required", config.ErrInvalid)
	}

	ouDN := fmt.Sprintf("OU=%s,%s", fx.OU, base)
	catalog := []Fixture{
		{Kind: KindOU, Identity: ouDN, Name: fx.OU},
		{Kind: KindGroup, Identity: fmt.Sprintf("CN=%s,%s", fx.Group, ouDN), Name: fx.Group},
		{Kind: KindComputer, Identity: fmt.Sprintf("CN=%s,%s", fx.Computer, ouDN), Name: fx.Computer},
		{Kind: KindPolicy, Identity: fmt.Sprintf("CN=%s,CN=Policies,CN=System,%s", fx.Policy, base), Name: fx.Policy},
	}

	if withDNS {
		if !cfg.DNSConfigured() {
			return nil, fmt.Errorf("%w: dns.host, dns.ip and dns.zone required when dns checks are in scope", config.ErrInvalid)
		}
		if ip := net.ParseIP(cfg.DNS.IP); ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("%w: dns.ip must be an IPv4 address, got %q", config.ErrInvalid, cfg.DNS.IP)
		}
		fqdn := cfg.DNS.Host + "." + cfg.DNS.Zone
		catalog = append(catalog, Fixture{
			Kind:     KindDNS,
			Identity: fqdn,
			Host:     cfg.DNS.Host,
			IP:       cfg.DNS.IP,
			Zone:     cfg.DNS.Zone,
			TTL:      cfg.DNS.TTL,
		})
	}

	catalog = append(catalog, Fixture{Kind: KindFeature, Identity: fx.Feature, Name: fx.Feature})
	return catalog, nil
}
