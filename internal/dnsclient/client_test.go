package dnsclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adconverge/internal/fixture"
)

type fakeExchanger struct {
	resp map[string]*dns.Msg
	err  map[string]error
	last *dns.Msg
}

func (f *fakeExchanger) ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	f.last = m
	if err := f.err[addr]; err != nil {
		return nil, 0, err
	}
	resp, ok := f.resp[addr]
	if !ok {
		resp = new(dns.Msg)
		resp.SetReply(m)
	}
	return resp, 0, nil
}

func dnsFixture() fixture.Fixture {
	return fixture.Fixture{
		Kind:     fixture.KindDNS,
		Identity: "probe.ad.example.com",
		Host:     "probe",
		IP:       "10.0.0.99",
		Zone:     "ad.example.com",
		TTL:      300,
	}
}

func msgWithRcode(rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.Rcode = rcode
	return m
}

func TestRecordExists(t *testing.T) {
	answer := new(dns.Msg)
	rr, err := dns.NewRR("probe.ad.example.com. 300 IN A 10.0.0.99")
	require.NoError(t, err)
	answer.Answer = []dns.RR{rr}

	tests := []struct {
		name      string
		resp      *dns.Msg
		err       error
		wantFound bool
		wantErr   bool
	}{
		{name: "answer present", resp: answer, wantFound: true},
		{name: "empty answer", resp: new(dns.Msg), wantFound: false},
		{name: "nxdomain", resp: msgWithRcode(dns.RcodeNameError), wantFound: false},
		{name: "servfail is a probe error", resp: msgWithRcode(dns.RcodeServerFailure), wantErr: true},
		{name: "transport error", err: errors.New("i/o timeout"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExchanger{
				resp: map[string]*dns.Msg{"dc2:53": tt.resp},
				err:  map[string]error{},
			}
			if tt.err != nil {
				ex.err["dc2:53"] = tt.err
			}
			c := &client{primary: "dc1", dns: ex}

			found, err := c.RecordExists(context.Background(), dnsFixture(), "dc2")
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, found)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)

			// Replica answers only; recursion would mask replication gaps.
			assert.False(t, ex.last.RecursionDesired)
		})
	}
}

func TestCreateRecordSendsUpdateToPrimary(t *testing.T) {
	ex := &fakeExchanger{resp: map[string]*dns.Msg{}, err: map[string]error{}}
	c := &client{primary: "dc1", dns: ex}

	require.NoError(t, c.CreateRecord(context.Background(), dnsFixture()))
	require.NotNil(t, ex.last)
	assert.Equal(t, dns.OpcodeUpdate, ex.last.Opcode)
	require.Len(t, ex.last.Question, 1)
	assert.Equal(t, "ad.example.com.", ex.last.Question[0].Name)
	require.Len(t, ex.last.Ns, 1)
	assert.Equal(t, "probe.ad.example.com.", ex.last.Ns[0].Header().Name)
}

func TestCreateRecordRefused(t *testing.T) {
	ex := &fakeExchanger{
		resp: map[string]*dns.Msg{"dc1:53": msgWithRcode(dns.RcodeRefused)},
		err:  map[string]error{},
	}
	c := &client{primary: "dc1", dns: ex}

	err := c.CreateRecord(context.Background(), dnsFixture())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFUSED")
}

func TestDeleteRecord(t *testing.T) {
	ex := &fakeExchanger{resp: map[string]*dns.Msg{}, err: map[string]error{}}
	c := &client{primary: "dc1", dns: ex}

	require.NoError(t, c.DeleteRecord(context.Background(), dnsFixture()))
	assert.Equal(t, dns.OpcodeUpdate, ex.last.Opcode)
	require.Len(t, ex.last.Ns, 1)
	assert.Equal(t, uint16(dns.ClassANY), ex.last.Ns[0].Header().Class)
}

func TestZoneReachable(t *testing.T) {
	ex := &fakeExchanger{resp: map[string]*dns.Msg{}, err: map[string]error{}}
	c := &client{primary: "dc1", dns: ex}
	assert.True(t, c.ZoneReachable(context.Background(), "ad.example.com"))

	ex.err["dc1:53"] = errors.New("connection refused")
	assert.False(t, c.ZoneReachable(context.Background(), "ad.example.com"))
}

func TestDiscoverNodes(t *testing.T) {
	resp := new(dns.Msg)
	for _, target := range []string{"dc3.ad.example.com.", "dc1.ad.example.com.", "dc2.ad.example.com."} {
		resp.Answer = append(resp.Answer, &dns.SRV{
			Hdr:    dns.RR_Header{Name: "_ldap._tcp.ad.example.com.", Rrtype: dns.TypeSRV, Class: dns.ClassINET},
			Target: target,
			Port:   389,
		})
	}
	ex := &fakeExchanger{resp: map[string]*dns.Msg{"dc1:53": resp}, err: map[string]error{}}
	c := &client{primary: "dc1", dns: ex}

	nodes, err := c.DiscoverNodes(context.Background(), "ad.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"dc1.ad.example.com", "dc2.ad.example.com", "dc3.ad.example.com"}, nodes)
}

func TestDNSAddr(t *testing.T) {
	assert.Equal(t, "dc1:53", dnsAddr("dc1"))
	assert.Equal(t, "dc1:5353", dnsAddr("dc1:5353"))
}
