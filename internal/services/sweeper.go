package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/cache"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"golang.org/x/sync/errgroup"
)

const sweepLockKey = "checkout:sweep"

// ErrSweepBusy means another replica holds the sweep lock.
var ErrSweepBusy = errors.New("sweep already running elsewhere")

type SweepResult struct {
	ExpiredOrders     int64
	LapsedBuyers      int
	InvalidatedBuyers []uint64
}

// Sweeper expires stale pending orders and lapsed entitlements. It is safe
// to schedule on every replica; only the lock holder does any work.
type Sweeper struct {
	orders       repository.OrderRepository
	entitlements repository.EntitlementRepository
	cache        cache.EntitlementCacheInterface
	rs           *redsync.Redsync
	lockTTL      time.Duration
	log          *log.Helper
	now          func() time.Time
}

func NewSweeper(
	orders repository.OrderRepository,
	entitlements repository.EntitlementRepository,
	entCache cache.EntitlementCacheInterface,
	rs *redsync.Redsync,
	lockTTL time.Duration,
	logger log.Logger,
) *Sweeper {
	return &Sweeper{
		orders:       orders,
		entitlements: entitlements,
		cache:        entCache,
		rs:           rs,
		lockTTL:      lockTTL,
		log:          log.NewHelper(logger),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	mutex := s.rs.NewMutex(sweepLockKey,
		redsync.WithExpiry(s.lockTTL),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if lockHeld(err) {
			s.log.Infof("skipping sweep: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrSweepBusy, err)
		}
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			s.log.Warnf("release sweep lock: %v", err)
		}
	}()

	now := s.now()
	res := &SweepResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.orders.ExpireSweep(gctx, now)
		if err != nil {
			return fmt.Errorf("expire orders: %w", err)
		}
		res.ExpiredOrders = n
		return nil
	})
	g.Go(func() error {
		buyers, err := s.entitlements.ExpireSweep(gctx, now)
		if err != nil {
			return fmt.Errorf("expire entitlements: %w", err)
		}
		res.LapsedBuyers = len(buyers)
		for _, buyerID := range buyers {
			if err := s.cache.Invalidate(gctx, buyerID); err != nil {
				s.log.Warnf("invalidate entitlement cache for buyer %d: %v", buyerID, err)
				continue
			}
			res.InvalidatedBuyers = append(res.InvalidatedBuyers, buyerID)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.log.Errorf("sweep: %v", err)
		return nil, err
	}

	if res.ExpiredOrders > 0 || res.LapsedBuyers > 0 {
		s.log.Infof("sweep expired %d orders; entitlements lapsed for %d buyers", res.ExpiredOrders, res.LapsedBuyers)
	}
	return res, nil
}

// lockHeld tells a lock owned by another replica apart from a Redis failure.
func lockHeld(err error) bool {
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &nodeTaken)
}
