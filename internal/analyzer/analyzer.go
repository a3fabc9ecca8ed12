// Package analyzer turns a profile dump into an AnalysisResult: the execution
// tree plus hotspots, a conclusion, suggestions and a performance score.
package analyzer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mickamy/rockscope/internal/composer"
	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
)

// Analyzer runs the composer and the hotspot rules. It is safe for
// concurrent use.
type Analyzer struct {
	logger   *zap.Logger
	composer *composer.Composer
	detector detector
}

// New builds an Analyzer from cfg. A nil logger discards.
func New(logger *zap.Logger, cfg config.Config) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		logger: logger.Named("analyzer"),
		composer: composer.New(logger,
			composer.WithTopNodes(cfg.Analysis.TopNodes),
			composer.WithThresholds(cfg.Analysis.MostConsumingPercent, cfg.Analysis.SecondConsumingPercent),
		),
		detector: detector{rules: cfg.Hotspots},
	}
}

// Analyze parses text and analyzes it with the active configuration.
func Analyze(ctx context.Context, text string) (*model.AnalysisResult, error) {
	return New(nil, config.Active()).Analyze(ctx, text)
}

// Analyze parses text and derives the analysis.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*model.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profile, err := a.composer.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.AnalyzeProfile(profile), nil
}

// AnalyzeProfile derives the analysis of an already parsed profile.
func (a *Analyzer) AnalyzeProfile(p *model.Profile) *model.AnalysisResult {
	spots := a.detector.Detect(p)
	summary := p.Summary

	result := &model.AnalysisResult{
		ID:               uuid.NewString(),
		ExecutionTree:    p.ExecutionTree,
		Summary:          &summary,
		Hotspots:         spots,
		Conclusion:       Conclusion(spots, p.Summary),
		Suggestions:      Suggestions(spots),
		PerformanceScore: Score(spots, p.Summary),
		TopNodes:         p.Summary.TopTimeConsumingNodes,
		SlowestOperators: SlowestOperators(p, SlowestLimit),
		Warnings:         p.Warnings,
		Profile:          p,
	}
	if result.Hotspots == nil {
		result.Hotspots = []model.HotSpot{}
	}

	a.logger.Debug("profile analyzed",
		zap.String("id", result.ID),
		zap.String("query_id", summary.QueryID),
		zap.Int("hotspots", len(spots)),
		zap.Float64("score", result.PerformanceScore),
	)
	return result
}

// Flatten lists the tree's nodes depth-first from the root, children in
// order. Nodes unreachable from the root are appended at the end.
func Flatten(t *model.ExecutionTree) []*model.ExecutionTreeNode {
	if t == nil {
		return nil
	}
	byID := make(map[string]*model.ExecutionTreeNode, len(t.Nodes))
	for i := range t.Nodes {
		byID[t.Nodes[i].ID] = &t.Nodes[i]
	}

	out := make([]*model.ExecutionTreeNode, 0, len(t.Nodes))
	seen := make(map[string]bool, len(t.Nodes))
	var walk func(id string)
	walk = func(id string) {
		n, ok := byID[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root.ID)
	for i := range t.Nodes {
		if !seen[t.Nodes[i].ID] {
			walk(t.Nodes[i].ID)
		}
	}
	return out
}
