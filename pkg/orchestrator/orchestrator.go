// Package orchestrator runs dynamic-field detection for a test and prepares
// its stub mappings for playback.
//
// After a RECORD run, AnalyzeAndPersist attributes the exchanges logged since
// a marker to the test, appends them to the stored samples, compares samples
// of each endpoint and merges the resulting ignore rules into the test's
// detected-fields.json. Before PLAYBACK, Prepare applies the stored rules and
// the configured explicit patterns to the test's mapping files.
//
// All mutations for one test class run under that class's lease, so methods
// of a class may run concurrently against a shared capture server.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/config"
	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/fieldpath"
	"github.com/sloppylopez/stablemock/pkg/logging"
	"github.com/sloppylopez/stablemock/pkg/recording"
	"github.com/sloppylopez/stablemock/pkg/samples"
	"github.com/sloppylopez/stablemock/pkg/sidecar"
	"github.com/sloppylopez/stablemock/pkg/stub"
)

// ErrDetectionFailed marks an analysis that panicked. It is logged, never
// returned to callers.
var ErrDetectionFailed = errors.New("detection failed")

// Orchestrator wires the detection pipeline to storage.
type Orchestrator struct {
	cfg        *config.Config
	registry   *Registry
	sidecars   *sidecar.Store
	classifier *detect.Classifier
	rewriter   *stub.Rewriter
	accessor   ContextAccessor
	log        *slog.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithRegistry shares a class registry between orchestrators.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithClock overrides the time source used for generated_at.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithContextAccessor sets how AnalyzeCurrent and PrepareCurrent find the
// running test.
func WithContextAccessor(a ContextAccessor) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.accessor = a
		}
	}
}

// New validates cfg and builds an orchestrator. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: NewRegistry(),
		accessor: NopAccessor{},
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.classifier = detect.NewClassifier(policy, detect.WithMaxSampleValues(cfg.Detection.MaxSampleValues))
	o.sidecars = sidecar.NewStore(cfg.Root,
		sidecar.WithLogger(o.log),
		sidecar.WithMaxSampleValues(cfg.Detection.MaxSampleValues))
	o.rewriter = stub.NewRewriter(stub.WithLogger(o.log))
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// Registry returns the class registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// EndpointReport summarizes detection for one endpoint.
type EndpointReport struct {
	Endpoint string   `json:"endpoint"`
	Samples  int      `json:"samples"`
	Fields   int      `json:"fields"`
	Rules    []string `json:"rules"`
	// Deferred is set when there were too few parseable samples to compare.
	Deferred bool `json:"deferred,omitempty"`
}

// Report is the outcome of AnalyzeAndPersist.
type Report struct {
	ID           sidecar.TestID   `json:"test"`
	NewExchanges int              `json:"newExchanges"`
	Endpoints    []EndpointReport `json:"endpoints"`
	Result       *sidecar.Result  `json:"result,omitempty"`
	Written      bool             `json:"written"`
}

// Marker returns the current size of log, to be passed to AnalyzeAndPersist
// after the test has run.
func (o *Orchestrator) Marker(ctx context.Context, log recording.Log) (int, error) {
	n, err := log.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count capture log: %w", err)
	}
	return n, nil
}

// AnalyzeAndPersist attributes the exchanges at chronological index >= marker
// to id and runs detection. Capture log and storage errors are returned;
// detection failures are logged and the samples are still persisted.
func (o *Orchestrator) AnalyzeAndPersist(ctx context.Context, log recording.Log, marker int, id sidecar.TestID) (*Report, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	snap, err := log.Exchanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture log: %w", err)
	}
	return o.AnalyzeSnapshot(ctx, snap, marker, id)
}

// AnalyzeSnapshot is AnalyzeAndPersist over an already fetched snapshot.
func (o *Orchestrator) AnalyzeSnapshot(ctx context.Context, snap recording.Snapshot, marker int, id sidecar.TestID) (*Report, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	exchanges, reordered := recording.Chronological(snap)
	if reordered {
		o.log.Warn("capture log was not in its declared order; sorted by timestamp",
			"class", id.Class, "method", id.Method, "order", string(snap.Order))
	}
	if marker < 0 || marker > len(exchanges) {
		o.log.Warn("marker outside capture log; attributing every exchange",
			"class", id.Class, "method", id.Method, "marker", marker, "size", len(exchanges))
		marker = 0
	}

	fresh := exchanges[marker:]
	report := &Report{ID: id, NewExchanges: len(fresh)}
	if len(fresh) == 0 {
		o.log.Debug("no new exchanges", "class", id.Class, "method", id.Method)
		return report, nil
	}

	err := o.registry.With(ctx, id.Class, func(l *Lease) error {
		return o.analyzeLocked(ctx, l, id, fresh, report)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (o *Orchestrator) analyzeLocked(ctx context.Context, l *Lease, id sidecar.TestID, fresh []*recording.Exchange, report *Report) error {
	dir := o.scopeDir(id)
	acc, err := l.Accumulator(dir, func() (*samples.Accumulator, error) {
		prior, err := o.loadSamples(ctx, dir)
		if err != nil {
			return nil, err
		}
		return samples.NewAccumulator(prior,
			samples.WithCap(o.cfg.Detection.SampleCap),
			samples.WithGraphQLOperations(o.cfg.Detection.GroupGraphQLByOperation),
			samples.WithLogger(o.log)), nil
	})
	if err != nil {
		return err
	}

	if touched := acc.Add(fresh...); len(touched) > 0 {
		if err := o.saveSamples(ctx, dir, acc.State()); err != nil {
			l.Evict(dir)
			return err
		}
	}

	fields, rules, endpoints, analyzed, err := o.detect(acc)
	report.Endpoints = endpoints
	if err != nil {
		o.log.Error("detection failed; samples kept", "class", id.Class, "method", id.Method, "error", err)
		return nil
	}

	explicit := o.cfg.ExplicitPatterns(id.Class, id.Method)
	if analyzed == 0 && len(explicit) == 0 {
		o.log.Debug("not enough samples yet", "class", id.Class, "method", id.Method)
		return nil
	}

	next := sidecar.NewResult(id, analyzed, fields, rules, explicit, o.now())
	merged, written, err := o.sidecars.Merge(id, next)
	if err != nil {
		return err
	}
	report.Result = merged
	report.Written = written
	return nil
}

// detect compares the samples of every endpoint in acc. It returns the number
// of samples that took part in a comparison.
func (o *Orchestrator) detect(acc *samples.Accumulator) (fields []detect.VaryingField, rules []detect.Rule, reports []EndpointReport, analyzed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDetectionFailed, r)
		}
	}()

	for _, key := range acc.Keys() {
		endpoint := key.String()
		entries := acc.Samples(key)
		parsed := make([]fieldpath.Sample, 0, len(entries))
		for i, e := range entries {
			tree, ok := body.Parse(e.Body, e.ContentType)
			if !ok {
				o.log.Debug("skipping unparseable sample", "endpoint", endpoint, "exchange", e.ExchangeID)
				continue
			}
			parsed = append(parsed, fieldpath.ExtractSample(i, tree))
		}

		er := EndpointReport{Endpoint: endpoint, Samples: len(parsed)}
		if len(parsed) < detect.MinSamples {
			er.Deferred = true
			reports = append(reports, er)
			continue
		}

		f, r := detect.Analyze(o.classifier, endpoint, parsed, o.cfg.Detection.MinConfidence)
		er.Fields = len(f)
		er.Rules = detect.RuleStrings(r)
		reports = append(reports, er)
		fields = append(fields, f...)
		rules = append(rules, r...)
		analyzed += len(parsed)
	}
	return fields, detect.Normalize(rules), reports, analyzed, nil
}

// scopeDir is where sample state for id lives.
func (o *Orchestrator) scopeDir(id sidecar.TestID) string {
	if o.cfg.Detection.Scope == config.ScopeClass {
		return id.ClassDir(o.cfg.Root)
	}
	return id.Dir(o.cfg.Root)
}

func (o *Orchestrator) loadSamples(ctx context.Context, dir string) (samples.State, error) {
	store, err := samples.Open(o.cfg.Samples.Backend, dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	state, err := store.Load(ctx)
	if errors.Is(err, samples.ErrCorruptState) {
		o.log.Warn("ignoring corrupt sample state", "path", dir, "error", err)
		return samples.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load samples from %s: %w", dir, err)
	}
	return state, nil
}

func (o *Orchestrator) saveSamples(ctx context.Context, dir string, state samples.State) error {
	store, err := samples.Open(o.cfg.Samples.Backend, dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save samples to %s: %w", dir, err)
	}
	return nil
}

// PrepareReport is the outcome of Prepare.
type PrepareReport struct {
	ID      sidecar.TestID `json:"test"`
	Rules   []string       `json:"rules"`
	Invalid []string       `json:"invalid,omitempty"`
	Changes []stub.Change  `json:"changes"`
}

// Prepare rewrites the mappings of id with the union of its detected rules and
// its explicit patterns. Invalid patterns are reported and skipped.
func (o *Orchestrator) Prepare(ctx context.Context, id sidecar.TestID) (*PrepareReport, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	report := &PrepareReport{ID: id}
	err := o.registry.With(ctx, id.Class, func(_ *Lease) error {
		rules, invalid, err := o.rulesFor(id)
		if err != nil {
			return err
		}
		report.Rules = detect.RuleStrings(rules)
		report.Invalid = invalid
		for _, s := range invalid {
			o.log.Warn("skipping invalid ignore pattern", "class", id.Class, "method", id.Method, "rule", s)
		}
		if len(rules) == 0 {
			return nil
		}
		changes, err := o.rewriter.ApplyDir(ctx, id.Dir(o.cfg.Root), rules)
		if err != nil {
			return err
		}
		report.Changes = changes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (o *Orchestrator) rulesFor(id sidecar.TestID) ([]detect.Rule, []string, error) {
	var (
		rules   []detect.Rule
		invalid []string
	)
	for _, s := range o.cfg.ExplicitPatterns(id.Class, id.Method) {
		r, err := detect.ParseRule(s)
		if err != nil {
			invalid = append(invalid, s)
			continue
		}
		rules = append(rules, r)
	}
	prior, err := o.sidecars.Load(id)
	if err != nil {
		return nil, nil, err
	}
	if prior != nil {
		stored, bad := prior.Rules()
		rules = append(rules, stored...)
		invalid = append(invalid, bad...)
	}
	return detect.Normalize(rules), invalid, nil
}

// AnalyzeCurrent runs AnalyzeAndPersist for the test the context accessor
// reports. Without a known test it does nothing.
func (o *Orchestrator) AnalyzeCurrent(ctx context.Context, log recording.Log, marker int) (*Report, error) {
	id, ok := o.accessor.TestID(ctx)
	if !ok {
		o.log.Debug("no current test; skipping detection")
		return nil, nil
	}
	return o.AnalyzeAndPersist(ctx, log, marker, id)
}

// PrepareCurrent runs Prepare for the test the context accessor reports.
func (o *Orchestrator) PrepareCurrent(ctx context.Context) (*PrepareReport, error) {
	id, ok := o.accessor.TestID(ctx)
	if !ok {
		o.log.Debug("no current test; skipping mapping preparation")
		return nil, nil
	}
	return o.Prepare(ctx, id)
}
