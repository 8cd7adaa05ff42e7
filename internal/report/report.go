// Package report renders one run's aggregated results. Render is pure:
// the same RunReport always yields byte-identical output.
package report

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"adconverge/internal/fixture"
	"adconverge/internal/verify"
)

// RunReport aggregates every CheckResult of one invocation plus the run
// metadata the transport needs to make the document self-contained.
type RunReport struct {
	RunID   string
	Domain  string
	Host    string
	Primary string
	Nodes   []string
	Wait    time.Duration

	DNSInScope bool

	Local  []verify.CheckResult
	Remote []verify.CheckResult

	CreateWarnings  []string
	CleanupWarnings []string
	Notes           []string
}

var kindLabels = map[fixture.Kind]string{
	fixture.KindOU:       "organizational unit",
	fixture.KindGroup:    "group",
	fixture.KindComputer: "computer",
	fixture.KindPolicy:   "policy object",
	fixture.KindDNS:      "dns record",
	fixture.KindFeature:  "host feature",
}

var directoryKinds = []fixture.Kind{
	fixture.KindOU,
	fixture.KindGroup,
	fixture.KindComputer,
	fixture.KindPolicy,
}

const notApplicable = "n/a"

// Render produces the plain-text report document: local directory, local
// system feature and local DNS sections, then the per-node replication
// matrix. Out-of-scope checks read "n/a", which is never the same thing
// as FAIL.
func Render(r RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Directory replication convergence report\n")
	fmt.Fprintf(&b, "run:     %s\n", r.RunID)
	fmt.Fprintf(&b, "domain:  %s\n", r.Domain)
	fmt.Fprintf(&b, "host:    %s\n", r.Host)
	fmt.Fprintf(&b, "primary: %s\n", r.Primary)
	fmt.Fprintf(&b, "wait:    %s\n", r.Wait)

	local := indexResults(r.Local)

	b.WriteString("\n== Local directory service ==\n")
	for _, kind := range directoryKinds {
		writeLocalLine(&b, kind, local)
	}

	b.WriteString("\n== Local system ==\n")
	writeLocalLine(&b, fixture.KindFeature, local)

	b.WriteString("\n== Local DNS ==\n")
	if r.DNSInScope {
		writeLocalLine(&b, fixture.KindDNS, local)
	} else {
		fmt.Fprintf(&b, "%-20s %s (dns capability not available)\n", kindLabels[fixture.KindDNS], notApplicable)
	}

	b.WriteString("\n== Replication matrix ==\n")
	writeMatrix(&b, r)

	writeWarnings(&b, "Creation warnings", r.CreateWarnings)
	writeWarnings(&b, "Cleanup warnings", r.CleanupWarnings)
	writeWarnings(&b, "Notes", r.Notes)

	return b.String()
}

func writeLocalLine(b *strings.Builder, kind fixture.Kind, local map[resultKey]verify.CheckResult) {
	label := kindLabels[kind]
	res, ok := lookupKind(local, kind)
	if !ok {
		fmt.Fprintf(b, "%-20s %s\n", label, notApplicable)
		return
	}
	fmt.Fprintf(b, "%-20s %s%s\n", label, outcomeLabel(res.Outcome), probeNote(res))
}

func writeMatrix(b *strings.Builder, r RunReport) {
	if len(r.Nodes) == 0 {
		b.WriteString("no replica nodes enumerated\n")
		return
	}

	remote := indexResults(r.Remote)
	kinds := directoryKinds
	if r.DNSInScope {
		kinds = append(append([]fixture.Kind{}, directoryKinds...), fixture.KindDNS)
	}

	tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "fixture")
	for _, node := range r.Nodes {
		fmt.Fprintf(tw, "\t%s", node)
	}
	fmt.Fprintln(tw)

	var probeErrs []verify.CheckResult
	for _, kind := range kinds {
		fmt.Fprintf(tw, "%s", kindLabels[kind])
		for _, node := range r.Nodes {
			res, ok := remote[resultKey{kind: kind, node: node}]
			if !ok {
				fmt.Fprintf(tw, "\t%s", notApplicable)
				continue
			}
			fmt.Fprintf(tw, "\t%s", outcomeLabel(res.Outcome))
			if res.Err != "" {
				probeErrs = append(probeErrs, res)
			}
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()

	for _, res := range probeErrs {
		fmt.Fprintf(b, "probe error: %s on %s: %s\n", kindLabels[res.Kind], res.Node, res.Err)
	}
}

func writeWarnings(b *strings.Builder, title string, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(b, "\n== %s ==\n", title)
	for _, w := range warnings {
		fmt.Fprintf(b, "- %s\n", w)
	}
}

func outcomeLabel(o verify.Outcome) string {
	if o == verify.Pass {
		return "PASS"
	}
	return "FAIL"
}

func probeNote(res verify.CheckResult) string {
	if res.Err == "" {
		return ""
	}
	return fmt.Sprintf(" (probe error: %s)", res.Err)
}

type resultKey struct {
	kind fixture.Kind
	node string
}

func indexResults(results []verify.CheckResult) map[resultKey]verify.CheckResult {
	m := make(map[resultKey]verify.CheckResult, len(results))
	for _, res := range results {
		m[resultKey{kind: res.Kind, node: res.Node}] = res
	}
	return m
}

func lookupKind(m map[resultKey]verify.CheckResult, kind fixture.Kind) (verify.CheckResult, bool) {
	for key, res := range m {
		if key.kind == kind {
			return res, true
		}
	}
	return verify.CheckResult{}, false
}
