package contextbuilder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/corewright/substrate/internal/metaobserver"
	"github.com/corewright/substrate/internal/store"
)

// Builder assembles bounded-token context blocks for agents about to start
// work on a task.
type Builder struct {
	store    *store.Store
	observer *metaobserver.Observer
	cfg      Config
}

// New builds a Builder against s. observer may be nil, in which case system
// metrics are simply not recorded.
func New(s *store.Store, observer *metaobserver.Observer, cfg Config) *Builder {
	return &Builder{store: s, observer: observer, cfg: cfg}
}

// BuildContext assembles the tiered context block for req, logging a
// building_queries audit row and a handful of system metrics on the way
// out regardless of how the build finished.
func (b *Builder) BuildContext(ctx context.Context, req Request) (string, error) {
	req = req.normalized()
	limits := limitsForDepth(req.Depth)
	start := time.Now()

	var parts []string
	status := "success"
	var buildErr error

	defer func() {
		dur := time.Since(start)
		joined := strings.Join(parts, "\n\n")
		summary := req.Task
		if len(summary) > 50 {
			summary = summary[:50]
		}
		errMsg := ""
		if buildErr != nil {
			errMsg = buildErr.Error()
		}
		_ = b.store.LogBuildingQueryDetailed(store.BuildingQueryLog{
			Caller:      "contextbuilder",
			QueryType:   "build_context",
			Query:       req.Task,
			ResultCount: len(parts),
			TokensUsed:  approxTokens(joined),
			DurationMs:  dur.Milliseconds(),
			Status:      status,
			ErrorMessage: errMsg,
			Summary:     summary,
		})
		recordSystemMetrics(b.observer, b.store, req.Domain)
	}()

	if err := ctx.Err(); err != nil {
		status = "timeout"
		buildErr = err
		return "", err
	}

	// Tier 0: project context.
	if pc := detectProjectContext(b.cfg.ProjectRoot); pc != nil {
		var pb strings.Builder
		pb.WriteString("## Project\n")
		pb.WriteString(fmt.Sprintf("Name: %s\n", pc.Name))
		if len(pc.Domains) > 0 {
			pb.WriteString(fmt.Sprintf("Domains: %s\n", strings.Join(pc.Domains, ", ")))
		}
		if pc.Description != "" {
			pb.WriteString(pc.Description)
		}
		parts = append(parts, pb.String())
	}

	// Tier 1: golden rules. On minimal depth only the always-load
	// categories are pulled in, keeping the block to a few hundred tokens.
	var categories []string
	if req.Depth == DepthMinimal {
		categories = b.cfg.AlwaysLoadCategories
	}
	golden := readGoldenRules(b.cfg.GoldenRulesPath, categories)
	if custom := readCustomGoldenRules(b.cfg.CustomGoldenRulesPath); custom != "" {
		golden = golden + "\n\n## Project Golden Rules\n" + custom
	}
	parts = append(parts, "## Golden Rules\n"+golden)

	if req.Depth == DepthMinimal {
		return strings.Join(parts, "\n\n"), nil
	}

	// Similar-failures preamble.
	if block := b.similarFailures(req.Task); block != "" {
		parts = append(parts, block)
	}

	// Tier 2.
	parts = append(parts, b.tier2(req, limits)...)

	// Tier 3.
	parts = append(parts, b.tier3(limits)...)

	header := fmt.Sprintf("# Context Build\nStatus: assembling context for task\nLocation: %s\nTask: %s",
		b.cfg.Location, req.Task)
	parts = append([]string{header}, parts...)

	result := strings.Join(parts, "\n\n")
	if approxTokens(result) > req.MaxTokens {
		maxChars := req.MaxTokens * 4
		if maxChars < len(result) {
			result = result[:maxChars] + "\n\n[context truncated to fit token budget]"
		}
	}
	return result, nil
}

func (b *Builder) similarFailures(task string) string {
	failures, err := b.store.RecentLearningsByType("failure", 50)
	if err != nil || len(failures) == 0 {
		return ""
	}
	taskWords := keywordSet(task)
	if len(taskWords) == 0 {
		return ""
	}

	type scored struct {
		l   store.Learning
		sim float64
	}
	var candidates []scored
	for _, f := range failures {
		sim, _ := jaccardSimilarity(taskWords, keywordSet(f.Title+" "+f.Summary))
		if sim >= 0.3 {
			candidates = append(candidates, scored{f, sim})
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].sim > candidates[i].sim {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	var sb strings.Builder
	sb.WriteString("## Similar Past Failures\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("- [%.2f] %s: %s\n", c.sim, c.l.Title, truncate(c.l.Summary, 150)))
	}
	return sb.String()
}

func (b *Builder) tier2(req Request, limits depthLimits) []string {
	var parts []string

	var heuristics []store.HeuristicLifecycle
	var err error
	if req.Domain != "" {
		heuristics, err = b.store.ActiveHeuristicsByDomain(req.Domain, false)
	} else {
		heuristics, err = b.store.RecentActiveHeuristics(true, limits.heuristics)
	}
	if err == nil && len(heuristics) > 0 {
		if len(heuristics) > limits.heuristics {
			heuristics = heuristics[:limits.heuristics]
		}
		var sb strings.Builder
		sb.WriteString("## Domain Heuristics\n")
		for _, h := range heuristics {
			sb.WriteString(fmt.Sprintf("- [%.2f] %s\n", h.Confidence, truncate(h.Statement, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	if learnings, err := b.store.RecentLearnings(req.Domain, limits.learnings); err == nil && len(learnings) > 0 {
		parts = append(parts, formatLearnings("## Relevant Learnings", learnings, req, limits))
	}

	if len(req.Tags) > 0 {
		if tagged := b.learningsByTags(req.Tags, limits.learnings); len(tagged) > 0 {
			parts = append(parts, formatLearnings("## Tagged Learnings", tagged, req, limits))
		}
	}

	if decisions, err := b.store.ListDecisions(req.Domain, "accepted", limits.decisions); err == nil && len(decisions) > 0 {
		var sb strings.Builder
		sb.WriteString("## Architecture Decisions\n")
		for _, d := range decisions {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", d.Title, truncate(d.Rationale, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	if invariants, err := b.store.ListInvariants(req.Domain, "active", limits.invariants); err == nil && len(invariants) > 0 {
		var sb strings.Builder
		sb.WriteString("## Invariants\n")
		for _, inv := range invariants {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", inv.Severity, truncate(inv.Statement, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}
	if violated, err := b.store.ListInvariants(req.Domain, "violated", limits.invariants); err == nil && len(violated) > 0 {
		var sb strings.Builder
		sb.WriteString("## Violated Invariants\n")
		for _, inv := range violated {
			sb.WriteString(fmt.Sprintf("- (x%d) %s\n", inv.ViolationCount, truncate(inv.Statement, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	if assumptions, err := b.store.ListAssumptions(req.Domain, "active", 0, limits.assumptions); err == nil && len(assumptions) > 0 {
		var sb strings.Builder
		sb.WriteString("## Active Assumptions\n")
		for _, a := range assumptions {
			sb.WriteString(fmt.Sprintf("- [%.2f] %s\n", a.Confidence, truncate(a.Statement, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}
	if challenged, err := b.store.ListChallengedAssumptions(req.Domain, limits.assumptions); err == nil && len(challenged) > 0 {
		var sb strings.Builder
		sb.WriteString("## Challenged Assumptions\n")
		for _, a := range challenged {
			sb.WriteString(fmt.Sprintf("- %s\n", truncate(a.Statement, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	if spikes, err := b.store.ListSpikeReports(req.Domain, limits.spikes); err == nil && len(spikes) > 0 {
		var sb strings.Builder
		sb.WriteString("## Spike Reports\n")
		for _, s := range spikes {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", s.Title, truncate(s.Conclusion, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	if plans, err := b.store.ListActivePlans(req.Domain, limits.spikes); err == nil && len(plans) > 0 {
		var sb strings.Builder
		sb.WriteString("## Active Plans\n")
		for _, p := range plans {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", p.Title, truncate(p.Goal, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	if postmortems, err := b.store.ListRecentPostmortems(req.Domain, limits.spikes); err == nil && len(postmortems) > 0 {
		var sb strings.Builder
		sb.WriteString("## Recent Postmortems\n")
		for _, p := range postmortems {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", p.Title, truncate(p.RootCause, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	return parts
}

func (b *Builder) learningsByTags(tags []string, limit int) []store.Learning {
	seen := make(map[string]bool)
	var out []store.Learning
	for _, tag := range tags {
		found, err := b.store.SearchLearnings(tag, limit)
		if err != nil {
			continue
		}
		for _, l := range found {
			if !seen[l.ID] {
				seen[l.ID] = true
				out = append(out, l)
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func formatLearnings(header string, learnings []store.Learning, req Request, limits depthLimits) string {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	for _, l := range learnings {
		score := relevanceScore(ageInDays(l.CreatedAt), l.Domain, req.Domain, 0)
		sb.WriteString(fmt.Sprintf("- [%.2f] %s: %s\n", score, l.Title, truncate(l.Summary, limits.summaryTruncate)))
	}
	return sb.String()
}

func (b *Builder) tier3(limits depthLimits) []string {
	var parts []string

	if recent, err := b.store.RecentLearnings("", limits.recentContext); err == nil && len(recent) > 0 {
		var sb strings.Builder
		sb.WriteString("## Recently Captured Learnings\n")
		for _, l := range recent {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", l.Title, l.Type))
		}
		parts = append(parts, sb.String())
	}

	if experiments, err := b.store.ListActiveExperiments(limits.recentContext); err == nil && len(experiments) > 0 {
		var sb strings.Builder
		sb.WriteString("## Active Experiments\n")
		for _, e := range experiments {
			sb.WriteString(fmt.Sprintf("- %s (cycle %d): %s\n", e.Name, e.CyclesRun, truncate(e.Hypothesis, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	if reviews, err := b.store.ListPendingCEOReviews(limits.recentContext); err == nil && len(reviews) > 0 {
		var sb strings.Builder
		sb.WriteString("## Pending Reviews\n")
		for _, r := range reviews {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", r.Title, truncate(r.Subject, limits.summaryTruncate)))
		}
		parts = append(parts, sb.String())
	}

	return parts
}
