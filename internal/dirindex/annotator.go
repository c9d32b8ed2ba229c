package dirindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// Options 控制占位节点的定位方式以及数量不一致时的处理。
type Options struct {
	// MarkerClass 为空时使用 DefaultMarkerClass。
	MarkerClass string
	// ListingSelector 为空时使用 DefaultListingSelector。
	ListingSelector string
	// Strict 为 true 时，节点数量与 Listing 长度不一致会直接返回错误且不发起探测。
	Strict bool
}

// EntryResult 记录单个条目的最终状态。
type EntryResult struct {
	Index   int
	Path    string
	Status  int
	Outcome Outcome
	Err     error
}

// Report 是全部探测结束后的汇总，Annotate 返回即代表所有条目已经 settle。
type Report struct {
	Entries  []EntryResult
	Mismatch *MismatchError
}

// Count 返回指定结果的条目数量。
func (r *Report) Count(outcome Outcome) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, entry := range r.Entries {
		if entry.Outcome == outcome {
			n++
		}
	}
	return n
}

// Absent 按 Listing 顺序返回被标记为缺失的路径。
func (r *Report) Absent() []string {
	if r == nil {
		return nil
	}
	var paths []string
	for _, entry := range r.Entries {
		if entry.Outcome == OutcomeAbsent {
			paths = append(paths, entry.Path)
		}
	}
	return paths
}

// Annotator 针对一份页面执行缓存存在性标注。
type Annotator struct {
	prober Prober
	opts   Options
	logger *logrus.Logger
}

// New 构造 Annotator，logger 可以为空。
func New(prober Prober, opts Options, logger *logrus.Logger) *Annotator {
	if opts.MarkerClass == "" {
		opts.MarkerClass = DefaultMarkerClass
	}
	if opts.ListingSelector == "" {
		opts.ListingSelector = DefaultListingSelector
	}
	return &Annotator{prober: prober, opts: opts, logger: logger}
}

// Annotate 先把 listing 与占位节点配对，然后不等待地为每个配对发起探测；
// 每个回调只修改自己的节点，互不协调。函数在全部探测结束后返回汇总。
func (a *Annotator) Annotate(ctx context.Context, root *goquery.Selection, listing Listing) (*Report, error) {
	if a.prober == nil {
		return nil, errors.New("prober is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	bindings, err := Bind(listing, root, a.opts.MarkerClass)
	report := &Report{Entries: make([]EntryResult, len(listing))}
	for i, p := range listing {
		report.Entries[i] = EntryResult{Index: i, Path: p, Outcome: OutcomeUnbound}
	}

	if err != nil {
		var mismatch *MismatchError
		if !errors.As(err, &mismatch) || a.opts.Strict {
			return nil, err
		}
		report.Mismatch = mismatch
	}

	var wg conc.WaitGroup
	for _, binding := range bindings {
		slot := &report.Entries[binding.Index]
		slot.Outcome = OutcomePending
		wg.Go(func() {
			a.resolve(ctx, binding, slot)
		})
	}
	wg.Wait()

	a.logSummary(report)
	return report, nil
}

// resolve 处理单个配对，panic 只影响当前条目。
func (a *Annotator) resolve(ctx context.Context, binding Binding, slot *EntryResult) {
	defer func() {
		if r := recover(); r != nil {
			slot.Outcome = OutcomeIndeterminate
			slot.Err = fmt.Errorf("annotate %s: panic: %v", binding.Path, r)
		}
	}()

	status, err := a.prober.Probe(ctx, binding.Path)
	slot.Status = status
	slot.Err = err
	slot.Outcome = Classify(status, err)
	if slot.Outcome == OutcomeAbsent {
		markAbsent(binding.Node)
	}
}

func (a *Annotator) logSummary(report *Report) {
	if a.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":        "annotate",
		"entries":       len(report.Entries),
		"absent":        report.Count(OutcomeAbsent),
		"cached":        report.Count(OutcomeCached),
		"indeterminate": report.Count(OutcomeIndeterminate),
		"unbound":       report.Count(OutcomeUnbound),
	}
	if report.Mismatch != nil {
		fields["mismatch"] = report.Mismatch.Error()
	}
	a.logger.WithFields(fields).Debug("annotate_complete")
}
