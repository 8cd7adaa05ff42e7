package dnsclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"adconverge/internal/fixture"
)

// Client manages the synthetic A record and answers per-node existence
// queries. Updates go to the primary node; existence is asked of each
// replica's own DNS server directly, with recursion disabled, so a cached
// upstream answer can never mask a replication gap.
type Client interface {
	CreateRecord(ctx context.Context, f fixture.Fixture) error
	RecordExists(ctx context.Context, f fixture.Fixture, node string) (bool, error)
	DeleteRecord(ctx context.Context, f fixture.Fixture) error
	ZoneReachable(ctx context.Context, zone string) bool
	DiscoverNodes(ctx context.Context, domain string) ([]string, error)
}

type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

type client struct {
	primary string
	dns     exchanger
}

func New(primary string, timeout time.Duration) Client {
	return &client{
		primary: primary,
		dns: &dns.Client{
			Net:         "udp",
			Timeout:     timeout,
			ReadTimeout: timeout,
		},
	}
}

func (c *client) CreateRecord(ctx context.Context, f fixture.Fixture) error {
	rr, err := dns.NewRR(fmt.Sprintf("%s %d IN A %s", dns.Fqdn(f.Identity), f.TTL, f.IP))
	if err != nil {
		return fmt.Errorf("build rr for %s: %w", f.Identity, err)
	}

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(f.Zone))
	m.Insert([]dns.RR{rr})

	slog.Info("Creating DNS record", "name", f.Identity, "ip", f.IP, "zone", f.Zone)
	return c.sendUpdate(ctx, m, f)
}

func (c *client) DeleteRecord(ctx context.Context, f fixture.Fixture) error {
	rr := &dns.A{Hdr: dns.RR_Header{Name: dns.Fqdn(f.Identity), Rrtype: dns.TypeA, Class: dns.ClassINET}}

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(f.Zone))
	m.RemoveName([]dns.RR{rr})

	slog.Info("Deleting DNS record", "name", f.Identity, "zone", f.Zone)
	return c.sendUpdate(ctx, m, f)
}

func (c *client) sendUpdate(ctx context.Context, m *dns.Msg, f fixture.Fixture) error {
	resp, _, err := c.dns.ExchangeContext(ctx, m, dnsAddr(c.primary))
	if err != nil {
		return fmt.Errorf("update %s on %s: %w", f.Identity, c.primary, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("update %s on %s: rcode %s", f.Identity, c.primary, dns.RcodeToString[resp.Rcode])
	}
	return nil
}

func (c *client) RecordExists(ctx context.Context, f fixture.Fixture, node string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(f.Identity), dns.TypeA)
	m.RecursionDesired = false

	resp, _, err := c.dns.ExchangeContext(ctx, m, dnsAddr(node))
	if err != nil {
		return false, fmt.Errorf("query %s on %s: %w", f.Identity, node, err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		return len(resp.Answer) > 0, nil
	case dns.RcodeNameError:
		return false, nil
	default:
		return false, fmt.Errorf("query %s on %s: rcode %s", f.Identity, node, dns.RcodeToString[resp.Rcode])
	}
}

// ZoneReachable is the capability probe run once at INIT. A failed SOA
// lookup gates the whole DNS fixture kind out of the run.
func (c *client) ZoneReachable(ctx context.Context, zone string) bool {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(zone), dns.TypeSOA)
	m.RecursionDesired = false

	resp, _, err := c.dns.ExchangeContext(ctx, m, dnsAddr(c.primary))
	if err != nil {
		slog.Warn("DNS capability probe failed", "zone", zone, "error", err)
		return false
	}
	return resp.Rcode == dns.RcodeSuccess
}

// DiscoverNodes enumerates replica endpoints from the _ldap._tcp SRV set,
// asked of the primary. Returned hosts are sorted for a stable report layout.
func (c *client) DiscoverNodes(ctx context.Context, domain string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("_ldap._tcp."+domain), dns.TypeSRV)
	m.RecursionDesired = false

	resp, _, err := c.dns.ExchangeContext(ctx, m, dnsAddr(c.primary))
	if err != nil {
		return nil, fmt.Errorf("srv lookup for %s: %w", domain, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("srv lookup for %s: rcode %s", domain, dns.RcodeToString[resp.Rcode])
	}

	var nodes []string
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		nodes = append(nodes, strings.TrimSuffix(srv.Target, "."))
	}
	sort.Strings(nodes)
	return nodes, nil
}

func dnsAddr(node string) string {
	if _, _, err := net.SplitHostPort(node); err == nil {
		return node
	}
	return net.JoinHostPort(node, "53")
}
