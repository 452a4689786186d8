package publish

import (
	"context"
	"time"
)

// Destination is one publishing target (an account on the remote service).
type Destination struct {
	ID   string
	Name string
}

func (d Destination) IsZero() bool { return d.ID == "" }

// ContentItem is one queued piece of content.
//
// MediaRef points at the source payload (path or URL). Caption and
// PlaceID are optional; when set they override whatever the enhancement
// step produces or the schedule default provides.
type ContentItem struct {
	ID       string
	MediaRef string
	Caption  string
	PlaceID  string
}

// EnhanceResult is the output of the enhancement collaborator.
// An empty MediaRef means "use the original media unchanged".
type EnhanceResult struct {
	Caption  string
	MediaRef string
}

// MediaHandle is the server-side handle of an uploaded media object.
type MediaHandle string

// Enhancer produces a caption (and optionally transformed media) for an item.
type Enhancer interface {
	Enhance(ctx context.Context, item ContentItem) (EnhanceResult, error)
}

// Publisher is the remote publishing service.
//
// CreatePost with a nil target time publishes immediately instead of
// scheduling.
type Publisher interface {
	UploadMedia(ctx context.Context, dest Destination, mediaRef string) (MediaHandle, error)
	CreatePost(ctx context.Context, dest Destination, caption string, media MediaHandle, at *time.Time, placeID string) (postID string, err error)
}

// Analytics returns 24 hourly engagement weights (index = hour of day).
type Analytics interface {
	HourlyEngagement(ctx context.Context, dest Destination) ([24]float64, error)
}
