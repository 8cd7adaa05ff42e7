package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adconverge/internal/config"
	"adconverge/internal/fixture"
	"adconverge/internal/history"
	"adconverge/internal/metrics"
	"adconverge/internal/report"
	"adconverge/internal/verify"
)

// fakeDirectory simulates a converged directory: anything created is
// visible on every node that is not marked down.
type fakeDirectory struct {
	pingErr   error
	createErr map[fixture.Kind]error
	downNodes map[string]error

	created []string
	deleted []string
}

func (d *fakeDirectory) Ping(ctx context.Context) error { return d.pingErr }

func (d *fakeDirectory) Create(ctx context.Context, f fixture.Fixture) error {
	if err := d.createErr[f.Kind]; err != nil {
		return err
	}
	d.created = append(d.created, f.Identity)
	return nil
}

func (d *fakeDirectory) Exists(ctx context.Context, f fixture.Fixture, node string) (bool, error) {
	if err := d.downNodes[node]; err != nil {
		return false, err
	}
	for _, id := range d.created {
		if id == f.Identity {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) Delete(ctx context.Context, f fixture.Fixture) error {
	d.deleted = append(d.deleted, f.Identity)
	return nil
}

type fakeDNS struct {
	zoneUp    bool
	discover  []string
	downNodes map[string]error

	created []string
	deleted []string
}

func (d *fakeDNS) CreateRecord(ctx context.Context, f fixture.Fixture) error {
	d.created = append(d.created, f.Identity)
	return nil
}

func (d *fakeDNS) DeleteRecord(ctx context.Context, f fixture.Fixture) error {
	d.deleted = append(d.deleted, f.Identity)
	return nil
}

func (d *fakeDNS) RecordExists(ctx context.Context, f fixture.Fixture, node string) (bool, error) {
	if err := d.downNodes[node]; err != nil {
		return false, err
	}
	for _, id := range d.created {
		if id == f.Identity {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDNS) ZoneReachable(ctx context.Context, zone string) bool { return d.zoneUp }

func (d *fakeDNS) DiscoverNodes(ctx context.Context, domain string) ([]string, error) {
	return d.discover, nil
}

type fakeFeatures struct {
	probeErr  error
	installed bool

	installs   int
	uninstalls int
}

func (f *fakeFeatures) Install(ctx context.Context, name string) error {
	f.installs++
	f.installed = true
	return nil
}

func (f *fakeFeatures) Uninstall(ctx context.Context, name string) error {
	f.uninstalls++
	f.installed = false
	return nil
}

func (f *fakeFeatures) IsInstalled(ctx context.Context, name string) (bool, error) {
	return f.installed, f.probeErr
}

type fakeTransport struct {
	sendErr error
	sent    []string
}

func (t *fakeTransport) Send(ctx context.Context, body, subject, to, from, endpoint string) error {
	t.sent = append(t.sent, body)
	return t.sendErr
}

type fakeArchive struct {
	recorded []report.RunReport
}

func (a *fakeArchive) Record(ctx context.Context, r report.RunReport) error {
	a.recorded = append(a.recorded, r)
	return nil
}

func (a *fakeArchive) Runs(ctx context.Context) ([]history.Entry, error) { return nil, nil }
func (a *fakeArchive) Close() error                                      { return nil }

// firedClock completes the wait immediately; stuckClock never does.
type firedClock struct{}

func (firedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type stuckClock struct{}

func (stuckClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func testConfig() *config.Config {
	return &config.Config{
		Wait:         1200 * time.Second,
		ProbeTimeout: time.Second,
		Directory: config.Directory{
			BaseDN:  "DC=ad,DC=example,DC=com",
			Primary: "dc1.ad.example.com",
			Nodes:   []string{"dc2.ad.example.com", "dc3.ad.example.com"},
		},
		Fixtures: config.Fixtures{
			OU:       "ConvergeProbe",
			Group:    "ConvergeProbeGroup",
			Computer: "CONVERGEPROBE01",
			Policy:   "ConvergeProbePolicy",
			Feature:  "XPS-Viewer",
		},
		DNS: config.DNS{Host: "convergeprobe", IP: "10.0.0.99", Zone: "ad.example.com", TTL: 300},
		Report: config.Report{
			To:       "ops@example.com",
			From:     "adconverge@example.com",
			Endpoint: "smtp.example.com:25",
		},
	}
}

type harness struct {
	dir       *fakeDirectory
	dns       *fakeDNS
	features  *fakeFeatures
	transport *fakeTransport
	archive   *fakeArchive
	orch      *Orchestrator
}

func newHarness(cfg *config.Config, clock Clock) *harness {
	h := &harness{
		dir:       &fakeDirectory{},
		dns:       &fakeDNS{zoneUp: true},
		features:  &fakeFeatures{},
		transport: &fakeTransport{},
		archive:   &fakeArchive{},
	}
	m := metrics.New(false)
	checker := verify.NewChecker(h.dir, h.dns, h.features, m, cfg.ProbeTimeout)
	h.orch = New(cfg, h.dir, h.dns, h.features, checker, h.transport, h.archive, m, clock)
	return h
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(testConfig(), firedClock{})

	rep, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.True(t, rep.DNSInScope)
	assert.Equal(t, "ad.example.com", rep.Domain)
	assert.Equal(t, []string{"dc2.ad.example.com", "dc3.ad.example.com"}, rep.Nodes)

	// Local phase: every in-scope fixture once, feature included.
	require.Len(t, rep.Local, 6)
	// Remote phase: feature is local-only, so 5 kinds x 2 nodes.
	require.Len(t, rep.Remote, 10)
	for _, res := range rep.Local {
		assert.Equal(t, verify.Pass, res.Outcome)
	}
	for _, res := range rep.Remote {
		assert.Equal(t, verify.Pass, res.Outcome)
	}

	// Cleanup ran once per created fixture, reverse order, feature included.
	assert.Len(t, h.dir.deleted, 4)
	assert.Equal(t, h.dir.deleted[len(h.dir.deleted)-1], "OU=ConvergeProbe,DC=ad,DC=example,DC=com")
	assert.Equal(t, []string{"convergeprobe.ad.example.com"}, h.dns.deleted)
	assert.Equal(t, 1, h.features.installs)
	assert.Equal(t, 1, h.features.uninstalls)

	// Report delivered and archived.
	assert.Len(t, h.transport.sent, 1)
	assert.Len(t, h.archive.recorded, 1)
}

func TestRunCapabilityMissingAbortsBeforeSideEffects(t *testing.T) {
	h := newHarness(testConfig(), firedClock{})
	h.dir.pingErr = errors.New("connection refused")

	rep, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapabilityMissing)
	assert.Nil(t, rep)

	assert.Empty(t, h.dir.created)
	assert.Empty(t, h.dir.deleted)
	assert.Empty(t, h.dns.created)
	assert.Empty(t, h.transport.sent)
}

func TestRunInvalidConfigAborts(t *testing.T) {
	cfg := testConfig()
	cfg.Directory.BaseDN = ""
	h := newHarness(cfg, firedClock{})

	_, err := h.orch.Run(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Empty(t, h.dir.created)
}

func TestRunDNSCapabilityGate(t *testing.T) {
	h := newHarness(testConfig(), firedClock{})
	h.dns.zoneUp = false

	rep, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, rep.DNSInScope)
	assert.Empty(t, h.dns.created, "no dns fixture may be created when the capability is gated off")
	for _, res := range rep.Remote {
		assert.NotEqual(t, fixture.KindDNS, res.Kind)
	}
	require.Len(t, rep.Remote, 8)
	assert.NotEmpty(t, rep.Notes)
}

func TestRunFeatureCapabilityGate(t *testing.T) {
	h := newHarness(testConfig(), firedClock{})
	h.features.probeErr = errors.New("powershell not found")

	rep, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, h.features.installs)
	assert.Equal(t, 0, h.features.uninstalls)
	require.Len(t, rep.Local, 5)
	for _, res := range rep.Local {
		assert.NotEqual(t, fixture.KindFeature, res.Kind)
	}
}

func TestRunCreateErrorRecordedNotFatal(t *testing.T) {
	h := newHarness(testConfig(), firedClock{})
	h.dir.createErr = map[fixture.Kind]error{fixture.KindGroup: errors.New("insufficient access")}

	rep, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.CreateWarnings, 1)
	assert.Contains(t, rep.CreateWarnings[0], "insufficient access")

	// The group naturally reads Fail everywhere.
	for _, res := range rep.Local {
		if res.Kind == fixture.KindGroup {
			assert.Equal(t, verify.Fail, res.Outcome)
		}
	}

	// Cleanup still attempts every in-scope fixture exactly once.
	assert.Len(t, h.dir.deleted, 4)
}

func TestRunUnreachableNodeIsolated(t *testing.T) {
	h := newHarness(testConfig(), firedClock{})
	h.dir.downNodes = map[string]error{"dc3.ad.example.com": errors.New("no route to host")}
	h.dns.downNodes = map[string]error{"dc3.ad.example.com": errors.New("no route to host")}

	rep, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	for _, res := range rep.Remote {
		switch res.Node {
		case "dc3.ad.example.com":
			assert.Equal(t, verify.Fail, res.Outcome)
			assert.NotEmpty(t, res.Err)
		case "dc2.ad.example.com":
			assert.Equal(t, verify.Pass, res.Outcome)
		}
	}

	// Fixtures still cleaned up.
	assert.Len(t, h.dir.deleted, 4)
	assert.Len(t, h.dns.deleted, 1)
}

func TestRunCancelledStillCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(testConfig(), stuckClock{})

	rep, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assert.Empty(t, rep.Remote)
	assert.NotEmpty(t, rep.Notes)

	assert.Len(t, h.dir.deleted, 4)
	assert.Len(t, h.dns.deleted, 1)
	assert.Equal(t, 1, h.features.uninstalls)
	assert.Len(t, h.transport.sent, 1)
}

func TestRunTransportFailureIsWarning(t *testing.T) {
	h := newHarness(testConfig(), firedClock{})
	h.transport.sendErr = errors.New("smtp unreachable")

	_, err := h.orch.Run(context.Background())
	assert.NoError(t, err, "transport failure must not change the run outcome")
	assert.Len(t, h.transport.sent, 1)
}

func TestRunNodeDiscoveryExcludesPrimary(t *testing.T) {
	cfg := testConfig()
	cfg.Directory.Nodes = nil
	h := newHarness(cfg, firedClock{})
	h.dns.discover = []string{"dc1.ad.example.com", "dc2.ad.example.com", "dc3.ad.example.com"}

	rep, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dc2.ad.example.com", "dc3.ad.example.com"}, rep.Nodes)
}

func TestDomainFromBaseDN(t *testing.T) {
	assert.Equal(t, "ad.example.com", DomainFromBaseDN("DC=ad,DC=example,DC=com"))
	assert.Equal(t, "example.com", DomainFromBaseDN("OU=x, DC=example, DC=com"))
	assert.Equal(t, "", DomainFromBaseDN("CN=foo"))
}
