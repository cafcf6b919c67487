package marketplace

import (
	"strconv"

	"nftmarket/core/types"
	"nftmarket/crypto"
)

const (
	EventTypeListingCreated   = "marketplace.listing.created"
	EventTypeListingSold      = "marketplace.listing.sold"
	EventTypeListingCancelled = "marketplace.listing.cancelled"
)

// NewListingCreatedEvent returns the canonical payload for a new listing.
func NewListingCreatedEvent(l *Listing) types.Event {
	return newListingEvent(EventTypeListingCreated, l, nil)
}

// NewListingSoldEvent returns the canonical payload emitted when a buyer
// settles a listing.
func NewListingSoldEvent(l *Listing, buyer crypto.Address) types.Event {
	return newListingEvent(EventTypeListingSold, l, map[string]string{"buyer": buyer.String()})
}

// NewListingCancelledEvent returns the canonical payload emitted when the
// seller withdraws a listing.
func NewListingCancelledEvent(l *Listing) types.Event {
	return newListingEvent(EventTypeListingCancelled, l, nil)
}

func newListingEvent(eventType string, l *Listing, extra map[string]string) types.Event {
	attrs := map[string]string{
		"listing":   l.ListingID.String(),
		"seller":    l.Seller.String(),
		"asset":     l.AssetID.String(),
		"escrow":    l.Escrow.String(),
		"price":     strconv.FormatUint(l.Price, 10),
		"createdAt": strconv.FormatInt(l.CreatedAt, 10),
		"active":    strconv.FormatBool(l.Active),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return types.Event{Type: eventType, Attributes: attrs}
}
