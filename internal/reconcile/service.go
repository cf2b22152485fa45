package reconcile

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// RepositoryPort loads reconciliation inputs. All reads are plain snapshot
// reads: the reporter observes, it never locks or writes.
type RepositoryPort interface {
	RecordedBaseline(ctx context.Context, batchID int64) (float64, error)
	Components(ctx context.Context, batchID int64) (Components, error)
	BatchIDsForProduct(ctx context.Context, productID int64) ([]int64, error)
}

// Service is the read-only reconciliation reporter.
type Service struct {
	repo RepositoryPort
	log  *slog.Logger
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// ForBatch recomputes the expected baseline for one batch and returns the
// discrepancy report.
func (s *Service) ForBatch(ctx context.Context, batchID int64) (Report, error) {
	recorded, err := s.repo.RecordedBaseline(ctx, batchID)
	if err != nil {
		return Report{}, err
	}
	comps, err := s.repo.Components(ctx, batchID)
	if err != nil {
		return Report{}, err
	}
	report := Build(batchID, recorded, comps, s.now().UTC())
	if report.Delta != 0 && s.log != nil {
		s.log.Warn("reconciliation discrepancy",
			"batch_id", batchID,
			"recorded", report.RecordedBaseline,
			"calculated", report.CalculatedBaseline,
			"delta", report.Delta)
	}
	return report, nil
}

// ForProduct reconciles every batch of a product. Batches are independent, so
// their snapshot reads run concurrently.
func (s *Service) ForProduct(ctx context.Context, productID int64) ([]Report, error) {
	ids, err := s.repo.BatchIDsForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			report, err := s.ForBatch(gctx, id)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
