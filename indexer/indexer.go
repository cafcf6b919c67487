package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nftmarket/core/events"
	"nftmarket/core/types"
	"nftmarket/native/marketplace"
	"nftmarket/observability/metrics"
)

// MaxPageSize caps Browse results.
const MaxPageSize = 200

var ErrMalformedEvent = errors.New("indexer: malformed listing event")

// Indexer projects committed marketplace events into a queryable table. The
// ledger stays authoritative; the index only serves browsing.
type Indexer struct {
	db      *gorm.DB
	metrics *metrics.MarketplaceMetrics
	logger  *slog.Logger
	nowFn   func() time.Time
}

// New wraps an opened and migrated database.
func New(db *gorm.DB) *Indexer {
	return &Indexer{db: db, logger: slog.Default(), nowFn: time.Now}
}

// SetMetrics wires the gauge of active listings.
func (i *Indexer) SetMetrics(m *metrics.MarketplaceMetrics) { i.metrics = m }

// SetLogger configures the logger. Passing nil restores slog.Default().
func (i *Indexer) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	i.logger = logger
}

// Backfill seeds the index from ledger state. Rows already refined to sold
// or cancelled keep their status.
func (i *Indexer) Backfill(ctx context.Context, listings []*marketplace.Listing) error {
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, l := range listings {
			row := ListingRow{
				Address:   l.ListingID.String(),
				Seller:    l.Seller.String(),
				Asset:     l.AssetID.String(),
				Escrow:    l.Escrow.String(),
				Price:     l.Price,
				Status:    l.Status(),
				ListedAt:  l.CreatedAt,
				UpdatedAt: i.nowFn(),
			}
			var existing ListingRow
			err := tx.Where("address = ?", row.Address).Take(&existing).Error
			switch {
			case err == nil:
				if !l.Active && isTerminal(existing.Status) {
					continue
				}
				if err := tx.Model(&existing).Updates(map[string]any{"status": row.Status, "updated_at": row.UpdatedAt}).Error; err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			default:
				return err
			}
		}
		return nil
	})
}

// Apply folds one event into the index. Events of other programs are
// ignored.
func (i *Indexer) Apply(ctx context.Context, evt types.Event) error {
	var status string
	switch evt.Type {
	case marketplace.EventTypeListingCreated:
		status = marketplace.StatusActive
	case marketplace.EventTypeListingSold:
		status = marketplace.StatusSold
	case marketplace.EventTypeListingCancelled:
		status = marketplace.StatusCancelled
	default:
		return nil
	}
	attrs := evt.Attributes
	address := attrs["listing"]
	if address == "" {
		return fmt.Errorf("%w: missing listing attribute", ErrMalformedEvent)
	}
	price, err := strconv.ParseUint(attrs["price"], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: price: %v", ErrMalformedEvent, err)
	}
	listedAt, err := strconv.ParseInt(attrs["createdAt"], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: createdAt: %v", ErrMalformedEvent, err)
	}
	now := i.nowFn()
	row := ListingRow{
		Address:   address,
		Seller:    attrs["seller"],
		Asset:     attrs["asset"],
		Escrow:    attrs["escrow"],
		Price:     price,
		Status:    status,
		Buyer:     attrs["buyer"],
		ListedAt:  listedAt,
		UpdatedAt: now,
	}
	actor := attrs["seller"]
	if status == marketplace.StatusSold {
		actor = attrs["buyer"]
	}
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertListing(tx, row); err != nil {
			return err
		}
		return tx.Create(&ActivityRow{
			ID:        uuid.New(),
			Listing:   address,
			Type:      evt.Type,
			Actor:     actor,
			Price:     price,
			CreatedAt: now,
		}).Error
	})
}

// upsertListing writes row unless the stored listing is already sold or
// cancelled. Events may arrive out of order: a sale can be published before
// the creation that preceded it on the ledger.
func upsertListing(tx *gorm.DB, row ListingRow) error {
	var existing ListingRow
	err := tx.Where("address = ?", row.Address).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&row).Error
	case err != nil:
		return err
	}
	if isTerminal(existing.Status) {
		return nil
	}
	return tx.Model(&existing).Updates(map[string]any{
		"seller":     row.Seller,
		"asset":      row.Asset,
		"escrow":     row.Escrow,
		"price":      row.Price,
		"status":     row.Status,
		"buyer":      row.Buyer,
		"listed_at":  row.ListedAt,
		"updated_at": row.UpdatedAt,
	}).Error
}

func isTerminal(status string) bool {
	return status == marketplace.StatusSold || status == marketplace.StatusCancelled
}

// Run consumes sub until ctx is cancelled or the subscription closes.
func (i *Indexer) Run(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if !strings.HasPrefix(evt.Type, "marketplace.") {
				continue
			}
			if err := i.Apply(ctx, evt); err != nil {
				i.logger.Error("index event", slog.String("type", evt.Type), slog.Any("error", err))
				continue
			}
			i.refreshGauge(ctx)
		}
	}
}

func (i *Indexer) refreshGauge(ctx context.Context) {
	if i.metrics == nil {
		return
	}
	var count int64
	if err := i.db.WithContext(ctx).Model(&ListingRow{}).Where("status = ?", marketplace.StatusActive).Count(&count).Error; err != nil {
		return
	}
	i.metrics.SetActiveListings(int(count))
}

// Filter narrows Browse results.
type Filter struct {
	Seller string
	Asset  string
	Status string
	Limit  int
	Offset int
}

// Browse returns listings matching f, newest first, with the total number of
// matches.
func (i *Indexer) Browse(ctx context.Context, f Filter) ([]ListingRow, int64, error) {
	q := i.db.WithContext(ctx).Model(&ListingRow{})
	if f.Seller != "" {
		q = q.Where("seller = ?", f.Seller)
	}
	if f.Asset != "" {
		q = q.Where("asset = ?", f.Asset)
	}
	switch f.Status {
	case "":
	case marketplace.StatusClosed:
		q = q.Where("status IN ?", []string{marketplace.StatusSold, marketplace.StatusCancelled})
	default:
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	var rows []ListingRow
	err := q.Order("listed_at DESC").Order("address ASC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// History returns the activity recorded for a listing, oldest first.
func (i *Indexer) History(ctx context.Context, listing string) ([]ActivityRow, error) {
	var rows []ActivityRow
	err := i.db.WithContext(ctx).Where("listing = ?", listing).Order("created_at ASC").Find(&rows).Error
	return rows, err
}
