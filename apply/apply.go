package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shashidharatd/tbfctl/config"
	"github.com/shashidharatd/tbfctl/metrics"
	"github.com/shashidharatd/tbfctl/netlink"
	"github.com/shashidharatd/tbfctl/qdisc"
)

// Submitter sends encoded qdisc options to the kernel.
type Submitter interface {
	Replace(ap qdisc.AttachPoint, handle uint32, o *netlink.Options) error
	Close()
}

// Result is the outcome for one configured link.
type Result struct {
	AttachPoint qdisc.AttachPoint
	Handle      uint32
	Discipline  qdisc.Discipline
	Options     *netlink.Options
	Block       []byte
	Err         error
}

type Applier struct {
	NewSubmitter func(netns string) (Submitter, error)
	RateTable    qdisc.RateTabler
	Metrics      *metrics.Metrics
	Log          *slog.Logger
}

func NewApplier(rt qdisc.RateTabler, m *metrics.Metrics, log *slog.Logger) *Applier {
	return &Applier{
		NewSubmitter: func(ns string) (Submitter, error) {
			c, err := netlink.NewClient(ns)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		RateTable: rt,
		Metrics:   m,
		Log:       log,
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, qdisc.ErrLimitLatencyExclusive):
		return "limit_latency_exclusive"
	case errors.Is(err, qdisc.ErrLimitOrLatencyRequired):
		return "limit_or_latency_required"
	case errors.Is(err, qdisc.ErrRateRequired):
		return "rate_required"
	case errors.Is(err, qdisc.ErrBurstRequired):
		return "burst_required"
	case errors.Is(err, qdisc.ErrMTURequired):
		return "mtu_required"
	default:
		return "other"
	}
}

func (a *Applier) report(log *slog.Logger, link string) func(config.Entry, error) {
	return func(e config.Entry, err error) {
		var (
			parseErr    *qdisc.ParseError
			conflictErr *qdisc.ConflictError
		)
		switch {
		case errors.As(err, &parseErr):
			a.Metrics.ParseErrors.WithLabelValues(e.Key).Inc()
			log.Warn("Failed to parse assignment, ignoring", "link", link, "key", e.Key, "value", e.Value, "line", e.Line, "error", parseErr.Err)
		case errors.As(err, &conflictErr):
			a.Metrics.Conflicts.Inc()
			log.Warn("More than one kind of queueing discipline, ignoring assignment", "link", link, "key", e.Key, "existing", conflictErr.Existing)
		default:
			log.Warn("Ignoring assignment", "link", link, "section", e.Section, "key", e.Key, "line", e.Line, "error", err)
		}
	}
}

// Plan ingests, validates and encodes every link without touching the
// kernel.
func (a *Applier) Plan(cfg *config.Config) []Result {
	return a.plan(a.Log, cfg)
}

func (a *Applier) plan(log *slog.Logger, cfg *config.Config) []Result {
	reg := qdisc.NewRegistry()
	results := make([]Result, 0, len(cfg.Links))

	for i := range cfg.Links {
		link := &cfg.Links[i]
		res := Result{}
		res.AttachPoint, res.Err = link.AttachPoint()
		if res.Err == nil {
			res.Handle, res.Err = link.QdiscHandle()
		}
		if res.Err != nil {
			results = append(results, res)
			continue
		}

		d, err := config.Ingest(reg, link, a.report(log, link.Name))
		if err != nil {
			var rej *qdisc.RejectionError
			if errors.As(err, &rej) {
				for _, r := range rej.Reasons {
					a.Metrics.Rejections.WithLabelValues(reasonLabel(r)).Inc()
				}
				log.Warn("Ignoring queueing discipline section", "link", res.AttachPoint.String(), "error", err)
			}
			res.Err = err
			results = append(results, res)
			continue
		}
		res.Discipline = d

		o := netlink.NewOptions()
		if err := d.Encode(o, a.RateTable); err != nil {
			res.Err = fmt.Errorf("%s: %w", res.AttachPoint, err)
			results = append(results, res)
			continue
		}
		block, err := o.Bytes()
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", res.AttachPoint, err)
			results = append(results, res)
			continue
		}
		res.Options = o
		res.Block = block

		log.Debug("Encoded queueing discipline", "link", res.AttachPoint.String(), "kind", d.Kind(), "bytes", len(block))
		results = append(results, res)
	}

	return results
}

// Apply plans every link and replaces the qdiscs that encoded cleanly.
// A failing link does not stop the others; all failures are joined. Once
// ctx is done the remaining links are not submitted and carry its error.
func (a *Applier) Apply(ctx context.Context, cfg *config.Config) ([]Result, error) {
	log := a.Log.With("run", uuid.NewString())
	results := a.plan(log, cfg)

	submitters := make(map[string]Submitter)
	defer func() {
		for _, s := range submitters {
			s.Close()
		}
	}()

	var errs []error
	for i := range results {
		res := &results[i]
		if res.Err != nil {
			a.Metrics.Applies.WithLabelValues("invalid").Inc()
			errs = append(errs, res.Err)
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("%s: %w", res.AttachPoint, err)
			a.Metrics.Applies.WithLabelValues("canceled").Inc()
			errs = append(errs, res.Err)
			continue
		}

		ns := res.AttachPoint.Namespace
		s, ok := submitters[ns]
		if !ok {
			var err error
			s, err = a.NewSubmitter(ns)
			if err != nil {
				res.Err = err
				a.Metrics.Applies.WithLabelValues("error").Inc()
				log.Error("Could not open netlink", "netns", ns, "error", err)
				errs = append(errs, err)
				continue
			}
			submitters[ns] = s
		}

		if err := s.Replace(res.AttachPoint, res.Handle, res.Options); err != nil {
			res.Err = err
			a.Metrics.Applies.WithLabelValues("error").Inc()
			log.Error("Could not set queueing discipline", "link", res.AttachPoint.String(), "error", err)
			errs = append(errs, err)
			continue
		}

		a.Metrics.Applies.WithLabelValues("ok").Inc()
		if tbf, ok := res.Discipline.(*qdisc.TokenBucketFilter); ok {
			a.Metrics.ConfiguredBps.WithLabelValues(res.AttachPoint.String()).Set(float64(tbf.Rate))
		}
		log.Info("Queueing discipline set", "link", res.AttachPoint.String(), "kind", res.Discipline.Kind(), "handle", qdisc.HandleString(res.Handle))
	}

	return results, errors.Join(errs...)
}
