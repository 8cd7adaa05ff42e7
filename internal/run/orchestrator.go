// Package run sequences one verification run:
//
//	INIT -> CREATE_FIXTURES -> LOCAL_VERIFY -> WAIT -> REMOTE_VERIFY
//	     -> CLEANUP -> REPORT -> DONE
//
// Once fixtures exist, cleanup always executes, whatever happened in
// between. Individual Pass/Fail outcomes are reportable content, never run
// errors; only a missing mandatory capability or invalid configuration
// aborts the run.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"adconverge/internal/config"
	"adconverge/internal/directory"
	"adconverge/internal/dnsclient"
	"adconverge/internal/feature"
	"adconverge/internal/fixture"
	"adconverge/internal/history"
	"adconverge/internal/mail"
	"adconverge/internal/metrics"
	"adconverge/internal/report"
	"adconverge/internal/verify"
)

// ErrCapabilityMissing aborts the run with a non-zero exit before any
// fixture is created. A missing DNS capability is never this error, only a
// scope reduction.
var ErrCapabilityMissing = errors.New("directory capability missing")

// Capabilities is resolved once at INIT and immutable for the run.
type Capabilities struct {
	Directory bool
	DNS       bool
	Feature   bool
}

// Clock is the single suspension point, injectable so tests never sleep.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func RealClock() Clock { return realClock{} }

type Orchestrator struct {
	cfg       *config.Config
	dir       directory.Client
	dns       dnsclient.Client
	features  feature.Manager
	checker   *verify.Checker
	transport mail.Transport
	archive   history.Archive // nil when history is disabled
	metrics   *metrics.Metrics
	clock     Clock
}

func New(cfg *config.Config, dir directory.Client, dns dnsclient.Client, features feature.Manager,
	checker *verify.Checker, transport mail.Transport, archive history.Archive,
	m *metrics.Metrics, clock Clock) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		dir:       dir,
		dns:       dns,
		features:  features,
		checker:   checker,
		transport: transport,
		archive:   archive,
		metrics:   m,
		clock:     clock,
	}
}

// Run performs one complete verification run and returns the assembled
// report. The returned error is non-nil only when the run could not start;
// Fail results inside a completed run are normal output.
func (o *Orchestrator) Run(ctx context.Context) (*report.RunReport, error) {
	start := time.Now()

	caps, nodes, err := o.initRun(ctx)
	if err != nil {
		o.metrics.IncRun(false)
		return nil, err
	}

	catalog, err := fixture.Catalog(o.cfg, caps.DNS)
	if err != nil {
		o.metrics.IncRun(false)
		return nil, err
	}
	if !caps.Feature {
		catalog = withoutKind(catalog, fixture.KindFeature)
	}

	host, _ := os.Hostname()
	rep := &report.RunReport{
		RunID:      uuid.NewString(),
		Domain:     DomainFromBaseDN(o.cfg.Directory.BaseDN),
		Host:       host,
		Primary:    o.cfg.Directory.Primary,
		Nodes:      nodes,
		Wait:       o.cfg.Wait,
		DNSInScope: caps.DNS,
	}
	if !caps.DNS {
		rep.Notes = append(rep.Notes, "dns capability unavailable; dns checks out of scope")
	}
	if !caps.Feature {
		rep.Notes = append(rep.Notes, "host feature management unavailable; feature check out of scope")
	}

	slog.Info("Starting verification run",
		"run", rep.RunID, "fixtures", len(catalog), "nodes", len(nodes), "wait", o.cfg.Wait)

	o.createFixtures(ctx, catalog, rep)
	rep.Local = o.checker.Check(ctx, catalog, []string{o.cfg.Directory.Primary})
	o.wait(ctx)
	o.remoteVerify(ctx, catalog, nodes, rep)

	// Cleanup runs unconditionally once creation was attempted, even when
	// the run was cancelled mid-wait.
	o.cleanup(catalog, rep)

	o.deliver(rep)

	o.metrics.IncRun(true)
	o.metrics.SetRunDuration(time.Since(start))
	slog.Info("Verification run complete", "run", rep.RunID, "duration", time.Since(start))
	return rep, nil
}

func (o *Orchestrator) initRun(ctx context.Context) (Capabilities, []string, error) {
	if err := o.cfg.Validate(); err != nil {
		return Capabilities{}, nil, err
	}

	if err := o.dir.Ping(ctx); err != nil {
		return Capabilities{}, nil, fmt.Errorf("%w: %v", ErrCapabilityMissing, err)
	}

	caps := Capabilities{Directory: true}

	caps.DNS = o.cfg.DNSConfigured() && o.dns.ZoneReachable(ctx, o.cfg.DNS.Zone)

	// Servers are expected to carry the feature tooling; a probe failure
	// narrows scope instead of failing the run.
	if _, err := o.features.IsInstalled(ctx, o.cfg.Fixtures.Feature); err != nil {
		slog.Warn("Host feature probe failed, excluding feature check", "error", err)
	} else {
		caps.Feature = true
	}

	nodes, err := o.enumerateNodes(ctx)
	if err != nil {
		return caps, nil, fmt.Errorf("%w: enumerate nodes: %v", ErrCapabilityMissing, err)
	}
	slog.Info("Enumerated replica nodes", "count", len(nodes), "dns", caps.DNS, "feature", caps.Feature)
	return caps, nodes, nil
}

// enumerateNodes resolves the replica list once; it is immutable for the
// rest of the run. The primary verifies locally and is excluded here.
func (o *Orchestrator) enumerateNodes(ctx context.Context) ([]string, error) {
	nodes := o.cfg.Directory.Nodes
	if len(nodes) == 0 {
		discovered, err := o.dns.DiscoverNodes(ctx, DomainFromBaseDN(o.cfg.Directory.BaseDN))
		if err != nil {
			return nil, err
		}
		nodes = discovered
	}

	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if sameHost(node, o.cfg.Directory.Primary) {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

func (o *Orchestrator) createFixtures(ctx context.Context, catalog []fixture.Fixture, rep *report.RunReport) {
	for _, f := range catalog {
		var err error
		op := "create"
		switch f.Kind {
		case fixture.KindDNS:
			err = o.dns.CreateRecord(ctx, f)
		case fixture.KindFeature:
			op = "install"
			err = o.features.Install(ctx, f.Identity)
		default:
			err = o.dir.Create(ctx, f)
		}
		o.metrics.IncFixtureOp(op, string(f.Kind), err == nil)
		if err != nil {
			// Verification will report Fail for this fixture; the warning
			// keeps the root cause visible.
			slog.Error("Fixture creation failed", "kind", f.Kind, "identity", f.Identity, "error", err)
			rep.CreateWarnings = append(rep.CreateWarnings, fmt.Sprintf("%s %s: %s", f.Kind, f.Identity, err))
		}
	}
}

func (o *Orchestrator) wait(ctx context.Context) {
	slog.Info("Waiting for propagation", "duration", o.cfg.Wait)
	select {
	case <-o.clock.After(o.cfg.Wait):
	case <-ctx.Done():
		slog.Warn("Run cancelled during propagation wait")
	}
}

func (o *Orchestrator) remoteVerify(ctx context.Context, catalog []fixture.Fixture, nodes []string, rep *report.RunReport) {
	if ctx.Err() != nil {
		rep.Notes = append(rep.Notes, "run cancelled before remote verification; matrix incomplete")
		return
	}
	remote := withoutKind(catalog, fixture.KindFeature)
	rep.Remote = o.checker.Check(ctx, remote, nodes)
}

// cleanup deletes every created fixture exactly once, reverse catalog order
// so contained objects go before their OU. Uses a fresh context: cleanup
// still runs after cancellation.
func (o *Orchestrator) cleanup(catalog []fixture.Fixture, rep *report.RunReport) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for i := len(catalog) - 1; i >= 0; i-- {
		f := catalog[i]
		var err error
		op := "delete"
		switch f.Kind {
		case fixture.KindDNS:
			err = o.dns.DeleteRecord(ctx, f)
		case fixture.KindFeature:
			op = "uninstall"
			err = o.features.Uninstall(ctx, f.Identity)
		default:
			err = o.dir.Delete(ctx, f)
		}
		o.metrics.IncFixtureOp(op, string(f.Kind), err == nil)
		if err != nil {
			slog.Warn("Fixture cleanup failed", "kind", f.Kind, "identity", f.Identity, "error", err)
			rep.CleanupWarnings = append(rep.CleanupWarnings, fmt.Sprintf("%s %s: %s", f.Kind, f.Identity, err))
		}
	}
}

// deliver sends and archives the report. Neither failure changes the
// run's outcome; cleanup has already happened.
func (o *Orchestrator) deliver(rep *report.RunReport) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if o.cfg.Report.To != "" && o.cfg.Report.Endpoint != "" {
		subject := fmt.Sprintf("Replication convergence report for %s", rep.Domain)
		err := o.transport.Send(ctx, report.Render(*rep), subject, o.cfg.Report.To, o.cfg.Report.From, o.cfg.Report.Endpoint)
		o.metrics.IncReportSend(err == nil)
		if err != nil {
			slog.Warn("Report delivery failed", "error", err)
		}
	}

	if o.archive != nil {
		if err := o.archive.Record(ctx, *rep); err != nil {
			slog.Warn("Report archive failed", "error", err)
		}
	}
}

func withoutKind(catalog []fixture.Fixture, kind fixture.Kind) []fixture.Fixture {
	out := make([]fixture.Fixture, 0, len(catalog))
	for _, f := range catalog {
		if f.Kind != kind {
			out = append(out, f)
		}
	}
	return out
}

func sameHost(a, b string) bool {
	return strings.EqualFold(shortName(a), shortName(b))
}

func shortName(host string) string {
	host, _, _ = strings.Cut(host, ".")
	return host
}

// DomainFromBaseDN turns "DC=ad,DC=example,DC=com" into "ad.example.com".
func DomainFromBaseDN(baseDN string) string {
	var labels []string
	for _, part := range strings.Split(baseDN, ",") {
		part = strings.TrimSpace(part)
		if len(part) > 3 && strings.EqualFold(part[:3], "DC=") {
			labels = append(labels, part[3:])
		}
	}
	return strings.Join(labels, ".")
}
