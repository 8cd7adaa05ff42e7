// Package verify turns fixtures and nodes into one CheckResult per pair.
// Retry policy, if any, belongs to the caller's scheduling, not here.
package verify

import (
	"context"
	"log/slog"
	"time"

	"adconverge/internal/directory"
	"adconverge/internal/dnsclient"
	"adconverge/internal/feature"
	"adconverge/internal/fixture"
	"adconverge/internal/metrics"
)

type Checker struct {
	dir      directory.Client
	dns      dnsclient.Client
	features feature.Manager
	metrics  *metrics.Metrics
	timeout  time.Duration

	seq int
}

func NewChecker(dir directory.Client, dns dnsclient.Client, features feature.Manager, m *metrics.Metrics, timeout time.Duration) *Checker {
	return &Checker{
		dir:      dir,
		dns:      dns,
		features: features,
		metrics:  m,
		timeout:  timeout,
	}
}

// Check probes every fixture against every node, in catalog order per node
// list order, and returns exactly one result per pair. A probe failure on
// one node never short-circuits the others.
func (c *Checker) Check(ctx context.Context, fixtures []fixture.Fixture, nodes []string) []CheckResult {
	results := make([]CheckResult, 0, len(fixtures)*len(nodes))
	for _, f := range fixtures {
		for _, node := range nodes {
			results = append(results, c.checkOne(ctx, f, node))
		}
	}
	return results
}

func (c *Checker) checkOne(ctx context.Context, f fixture.Fixture, node string) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		found bool
		err   error
	)
	switch f.Kind {
	case fixture.KindDNS:
		found, err = c.dns.RecordExists(probeCtx, f, node)
	case fixture.KindFeature:
		found, err = c.features.IsInstalled(probeCtx, f.Identity)
	default:
		found, err = c.dir.Exists(probeCtx, f, node)
	}

	c.seq++
	res := CheckResult{Kind: f.Kind, Node: node, Seq: c.seq}
	switch {
	case err != nil:
		// Unreachable is conservatively a failure, never a pass.
		res.Outcome = Fail
		res.Err = err.Error()
		slog.Warn("Probe failed", "kind", f.Kind, "node", node, "error", err)
	case found:
		res.Outcome = Pass
	default:
		res.Outcome = Fail
		slog.Info("Fixture not visible", "kind", f.Kind, "node", node, "identity", f.Identity)
	}

	c.metrics.IncProbe(string(f.Kind), node, string(res.Outcome))
	return res
}
