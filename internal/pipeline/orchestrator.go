package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/observability"
	"github.com/nauanbek/saqshy/internal/signal"
)

const defaultDeadline = 5 * time.Second

// Orchestrator runs the configured sources as a two-stage concurrent
// fan-out: dependency-free sources first, dependent sources after that join
// with the stage-one signals as prior context. Every branch converts its own
// failure to its declared fallback before joining, so one sick source can
// neither abort nor stall the pass.
type Orchestrator struct {
	deadline time.Duration
	stageOne []Spec
	stageTwo []Spec
	breakers map[string]*Breaker
}

func NewOrchestrator(deadline time.Duration, defaults BreakerParams, specs ...Spec) (*Orchestrator, error) {
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	if defaults.Threshold <= 0 {
		defaults = DefaultBreakerParams()
	}
	o := &Orchestrator{
		deadline: deadline,
		breakers: make(map[string]*Breaker, len(specs)),
	}
	names := make(map[string]bool, len(specs))
	for _, sp := range specs {
		if sp.Name == "" || sp.Source == nil {
			return nil, fmt.Errorf("source spec needs a name and a source: %+v", sp)
		}
		if names[sp.Name] {
			return nil, fmt.Errorf("duplicate source %q", sp.Name)
		}
		names[sp.Name] = true
		if sp.Timeout <= 0 {
			sp.Timeout = time.Second
		}
		if sp.Fallback == "" {
			sp.Fallback = FallbackSkip
		}
		if sp.Required && sp.MinLevel != LevelMinimal {
			return nil, fmt.Errorf("required source %q must run at every level", sp.Name)
		}
		params := defaults
		if sp.Breaker != nil {
			params = *sp.Breaker
		}
		if params.Threshold > 0 {
			o.breakers[sp.Name] = NewBreaker(params)
		}
		if len(sp.DependsOn) == 0 {
			o.stageOne = append(o.stageOne, sp)
		} else {
			o.stageTwo = append(o.stageTwo, sp)
		}
	}
	for _, sp := range o.stageTwo {
		for _, dep := range sp.DependsOn {
			if !names[dep] {
				return nil, fmt.Errorf("source %q depends on unknown source %q", sp.Name, dep)
			}
		}
		for _, other := range o.stageTwo {
			for _, dep := range sp.DependsOn {
				if other.Name == dep {
					return nil, fmt.Errorf("source %q depends on %q which is not a stage-one source", sp.Name, dep)
				}
			}
		}
	}
	return o, nil
}

// Collect gathers signals for one message under the hard pass deadline. The
// returned error is non-nil only when a required source failed; everything
// else degrades instead of failing.
func (o *Orchestrator) Collect(ctx context.Context, req Request) (signal.Set, Report, error) {
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	level := o.currentLevel()
	report := Report{Level: level}
	seen := make(map[string]bool)
	var collected signal.Set

	merge := func(results []branchResult) error {
		for _, r := range results {
			if r.err != nil {
				return r.err
			}
			report.Branches = append(report.Branches, r.branch)
			for _, s := range r.signals {
				// Duplicate names collapse; first writer wins.
				if seen[s.Name] {
					continue
				}
				seen[s.Name] = true
				collected = append(collected, s)
			}
		}
		return nil
	}

	if err := merge(o.fanOut(ctx, o.stageOne, level, req, &report)); err != nil {
		return nil, report, err
	}
	req.Prior = collected
	if err := merge(o.fanOut(ctx, o.stageTwo, level, req, &report)); err != nil {
		return nil, report, err
	}
	return collected, report, nil
}

type branchResult struct {
	signals signal.Set
	branch  BranchReport
	err     error
}

// fanOut runs one stage concurrently. Level-excluded sources never spawn a
// branch; they are recorded straight into the report.
func (o *Orchestrator) fanOut(ctx context.Context, specs []Spec, level Level, req Request, report *Report) []branchResult {
	var runnable []Spec
	for _, sp := range specs {
		if level < sp.MinLevel {
			report.Branches = append(report.Branches, BranchReport{Source: sp.Name, Status: BranchExcluded})
			continue
		}
		runnable = append(runnable, sp)
	}
	results := make([]branchResult, len(runnable))
	var wg sync.WaitGroup
	for i := range runnable {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.runSource(ctx, runnable[i], req)
		}(i)
	}
	wg.Wait()
	return results
}

type collectOutcome struct {
	signals signal.Set
	err     error
}

// runSource executes one branch: breaker gate, bounded call, fallback
// conversion. It always returns by the source's own deadline even if the
// implementation ignores cancellation; the inner result channel is buffered
// so an abandoned call cannot block anything.
func (o *Orchestrator) runSource(ctx context.Context, sp Spec, req Request) branchResult {
	entry := o.getLogEntry().WithField("method", "runSource").WithField("source", sp.Name)

	breaker := o.breakers[sp.Name]
	if breaker != nil && !breaker.Allow() {
		observability.ObserveSource(sp.Name, string(BranchBreakerOpen), 0)
		if sp.Required {
			return branchResult{err: errors.Errorf("required source %q short-circuited by open breaker", sp.Name)}
		}
		return branchResult{branch: BranchReport{Source: sp.Name, Status: BranchBreakerOpen}}
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, sp.Timeout)
	defer cancel()

	ch := make(chan collectOutcome, 1)
	go func() {
		// A panicking source counts as a branch failure, same as an error:
		// it must never take the other branches (or the process) with it.
		defer func() {
			if r := recover(); r != nil {
				ch <- collectOutcome{err: errors.Errorf("source %q panicked: %v", sp.Name, r)}
			}
		}()
		set, err := sp.Source.Collect(cctx, req)
		ch <- collectOutcome{signals: set, err: err}
	}()

	var out collectOutcome
	select {
	case out = <-ch:
	case <-cctx.Done():
		out = collectOutcome{err: cctx.Err()}
	}
	elapsed := time.Since(start)

	if out.err != nil {
		if breaker != nil {
			breaker.Failure()
			observability.SetBreakerOpen(sp.Name, breaker.Open())
		}
		observability.ObserveSource(sp.Name, "failed", elapsed)
		if sp.Required {
			return branchResult{err: errors.WithMessagef(out.err, "required source %q failed", sp.Name)}
		}
		entry.WithError(out.err).Warn("signal source failed, using fallback")
		return o.fallbackResult(sp, out.err, elapsed)
	}

	if breaker != nil {
		breaker.Success()
		observability.SetBreakerOpen(sp.Name, false)
	}
	observability.ObserveSource(sp.Name, string(BranchOK), elapsed)
	return branchResult{
		signals: out.signals,
		branch:  BranchReport{Source: sp.Name, Status: BranchOK, Elapsed: elapsed.String()},
	}
}

func (o *Orchestrator) fallbackResult(sp Spec, cause error, elapsed time.Duration) branchResult {
	branch := BranchReport{Source: sp.Name, Elapsed: elapsed.String(), Err: cause.Error()}
	switch sp.Fallback {
	case FallbackAssumePositive:
		branch.Status = BranchAssumedPositive
		return branchResult{signals: sp.Assumption, branch: branch}
	case FallbackAssumeNegative:
		branch.Status = BranchAssumedNegative
		return branchResult{branch: branch}
	default:
		branch.Status = BranchSkipped
		return branchResult{branch: branch}
	}
}

// currentLevel derives the degradation level from breaker state. An open
// breaker on a network-class source drops the pass to reduced; an open
// breaker on a local profile/behavior source drops it to minimal.
func (o *Orchestrator) currentLevel() Level {
	level := LevelFull
	visit := func(specs []Spec) {
		for _, sp := range specs {
			breaker := o.breakers[sp.Name]
			if breaker == nil || !breaker.Open() {
				continue
			}
			switch sp.MinLevel {
			case LevelFull:
				if level > LevelReduced {
					level = LevelReduced
				}
			case LevelReduced:
				level = LevelMinimal
			}
		}
	}
	visit(o.stageOne)
	visit(o.stageTwo)
	return level
}

func (o *Orchestrator) getLogEntry() *log.Entry {
	return log.WithField("object", "Orchestrator")
}
