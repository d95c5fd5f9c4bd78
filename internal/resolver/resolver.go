package resolver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/agnivade/levenshtein"
	gocache "github.com/patrickmn/go-cache"

	"parkstatus-backend/internal/archive"
	"parkstatus-backend/internal/model"
	"parkstatus-backend/internal/parse"
)

// maxFuzzyDistance and minFuzzyConfidence bound which fuzzy matches are
// accepted.
const (
	maxFuzzyDistance   = 3
	minFuzzyConfidence = 0.8
)

// MatchType describes how a mapping was found.
type MatchType string

const (
	MatchExactUUID MatchType = "exact_uuid"
	MatchExactName MatchType = "exact_name"
	MatchFuzzyName MatchType = "fuzzy_name"
	MatchCreated   MatchType = "created"
	MatchNotFound  MatchType = "not_found"
)

// MappingResult is the outcome of one resolution attempt. NotFound is a
// normal variant, not an error.
type MappingResult struct {
	RideID     *int64
	ParkID     *int64
	MatchType  MatchType
	Confidence float64
	Distance   *int
}

// EntityRef is one external entity to resolve via BulkMap.
type EntityRef struct {
	ExternalID string
	Name       string
	ParkID     int64
}

// Catalog is the slice of the entity catalog the resolver reads and writes.
// Missing rows are (nil, nil), not errors.
type Catalog interface {
	RideByExternalID(ctx context.Context, externalID string) (*model.Ride, error)
	RidesByPark(ctx context.Context, parkID int64) ([]model.Ride, error)
	CreateRide(ctx context.Context, ride *model.Ride) error
	SetRideExternalID(ctx context.Context, rideID int64, externalID string) error
	ParkByExternalID(ctx context.Context, externalID string) (*model.Park, error)
	ParkBySlug(ctx context.Context, slug string) (*model.Park, error)
}

// Resolver maps external UUID/name pairs onto internal catalog ids. Its
// caches are scoped to one import job; share across jobs only behind
// external synchronization.
type Resolver struct {
	catalog    Catalog
	logger     *slog.Logger
	autoCreate bool

	uuidCache   *gocache.Cache // external ride UUID -> int64 ride id
	nameCache   *gocache.Cache // "parkID:normalized name" -> int64 ride id
	rosterCache *gocache.Cache // parkID -> map[normalized name]int64
	parkCache   *gocache.Cache // park UUID or "slug:" key -> int64 park id

	stats map[MatchType]int64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAutoCreate enables creating catalog rows for unmatched rides.
func WithAutoCreate(enabled bool) Option {
	return func(r *Resolver) { r.autoCreate = enabled }
}

// New creates a Resolver over the given catalog.
func New(catalog Catalog, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:     catalog,
		logger:      logger,
		uuidCache:   gocache.New(gocache.NoExpiration, 0),
		nameCache:   gocache.New(gocache.NoExpiration, 0),
		rosterCache: gocache.New(gocache.NoExpiration, 0),
		parkCache:   gocache.New(gocache.NoExpiration, 0),
		stats:       make(map[MatchType]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MapRide resolves an external (UUID, name) pair to an internal ride id
// within one park. The cascade: UUID cache, catalog by UUID, name cache,
// roster exact match, roster fuzzy match, optional auto-create.
func (r *Resolver) MapRide(ctx context.Context, externalID, name string, parkID int64) (MappingResult, error) {
	return r.mapRide(ctx, externalID, name, parkID, false)
}

func (r *Resolver) mapRide(ctx context.Context, externalID, name string, parkID int64, isShow bool) (MappingResult, error) {
	if id, ok := r.uuidCache.Get(externalID); ok {
		rideID := id.(int64)
		return r.hit(MappingResult{RideID: &rideID, ParkID: &parkID, MatchType: MatchExactUUID, Confidence: 1.0}), nil
	}

	if externalID != "" {
		ride, err := r.catalog.RideByExternalID(ctx, externalID)
		if err != nil {
			return MappingResult{}, fmt.Errorf("ride lookup by uuid: %w", err)
		}
		if ride != nil {
			r.uuidCache.Set(externalID, ride.ID, gocache.NoExpiration)
			return r.hit(MappingResult{RideID: &ride.ID, ParkID: &ride.ParkID, MatchType: MatchExactUUID, Confidence: 1.0}), nil
		}
	}

	norm := parse.NormalizeName(name)
	nameKey := fmt.Sprintf("%d:%s", parkID, norm)
	if norm != "" {
		if id, ok := r.nameCache.Get(nameKey); ok {
			rideID := id.(int64)
			return r.hit(MappingResult{RideID: &rideID, ParkID: &parkID, MatchType: MatchExactName, Confidence: 1.0}), nil
		}

		roster, err := r.roster(ctx, parkID)
		if err != nil {
			return MappingResult{}, err
		}

		if rideID, ok := roster[norm]; ok {
			r.rememberName(nameKey, rideID, externalID)
			if err := r.adoptExternalID(ctx, rideID, externalID); err != nil {
				return MappingResult{}, err
			}
			return r.hit(MappingResult{RideID: &rideID, ParkID: &parkID, MatchType: MatchExactName, Confidence: 1.0}), nil
		}

		if res, ok := r.fuzzyMatch(norm, roster, parkID); ok {
			r.rememberName(nameKey, *res.RideID, externalID)
			return r.hit(res), nil
		}
	}

	if r.autoCreate && externalID != "" {
		res, err := r.createRide(ctx, externalID, name, norm, parkID, isShow)
		if err != nil {
			return MappingResult{}, err
		}
		return r.hit(res), nil
	}

	return r.hit(MappingResult{MatchType: MatchNotFound}), nil
}

// MapPark resolves a park by external UUID and/or slug. Returns nil when
// neither matches.
func (r *Resolver) MapPark(ctx context.Context, externalID, slug string) (*int64, error) {
	if externalID != "" {
		if id, ok := r.parkCache.Get(externalID); ok {
			parkID := id.(int64)
			return &parkID, nil
		}
		park, err := r.catalog.ParkByExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("park lookup by uuid: %w", err)
		}
		if park != nil {
			r.parkCache.Set(externalID, park.ID, gocache.NoExpiration)
			return &park.ID, nil
		}
	}

	if slug != "" {
		slugKey := "slug:" + slug
		if id, ok := r.parkCache.Get(slugKey); ok {
			parkID := id.(int64)
			return &parkID, nil
		}
		park, err := r.catalog.ParkBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("park lookup by slug: %w", err)
		}
		if park != nil {
			r.parkCache.Set(slugKey, park.ID, gocache.NoExpiration)
			return &park.ID, nil
		}
	}

	return nil, nil
}

// MapEntityFromEvent resolves the event's park, then its ride scoped to that
// park. When the park is unknown the ride is not even looked up: rides are
// never created under an unknown park.
func (r *Resolver) MapEntityFromEvent(ctx context.Context, ev *archive.Event) (MappingResult, error) {
	parkUUID := ev.ParkID
	if parkUUID == "" {
		parkUUID = ev.DestinationID
	}

	parkID, err := r.MapPark(ctx, parkUUID, ev.ParkSlug)
	if err != nil {
		return MappingResult{}, err
	}
	if parkID == nil {
		return r.hit(MappingResult{MatchType: MatchNotFound}), nil
	}

	res, err := r.mapRide(ctx, ev.EntityID, ev.Name, *parkID, ev.IsShow())
	if err != nil {
		return MappingResult{}, err
	}
	res.ParkID = parkID
	return res, nil
}

// BulkMap resolves a set of entities, keyed by external id.
func (r *Resolver) BulkMap(ctx context.Context, entities []EntityRef) (map[string]MappingResult, error) {
	out := make(map[string]MappingResult, len(entities))
	for _, e := range entities {
		res, err := r.MapRide(ctx, e.ExternalID, e.Name, e.ParkID)
		if err != nil {
			return nil, err
		}
		out[e.ExternalID] = res
	}
	return out, nil
}

// Stats returns a copy of the per-match-type counters.
func (r *Resolver) Stats() map[MatchType]int64 {
	out := make(map[MatchType]int64, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}
	return out
}

// ResetStats zeroes the per-match-type counters.
func (r *Resolver) ResetStats() {
	r.stats = make(map[MatchType]int64)
}

// ClearCaches drops every in-memory cache.
func (r *Resolver) ClearCaches() {
	r.uuidCache.Flush()
	r.nameCache.Flush()
	r.rosterCache.Flush()
	r.parkCache.Flush()
}

func (r *Resolver) hit(res MappingResult) MappingResult {
	r.stats[res.MatchType]++
	return res
}

// roster returns the normalized-name index for a park, loading it lazily.
func (r *Resolver) roster(ctx context.Context, parkID int64) (map[string]int64, error) {
	key := fmt.Sprintf("%d", parkID)
	if cached, ok := r.rosterCache.Get(key); ok {
		return cached.(map[string]int64), nil
	}

	rides, err := r.catalog.RidesByPark(ctx, parkID)
	if err != nil {
		return nil, fmt.Errorf("load roster for park %d: %w", parkID, err)
	}

	roster := make(map[string]int64, len(rides))
	for _, ride := range rides {
		roster[parse.NormalizeName(ride.Name)] = ride.ID
	}
	r.rosterCache.Set(key, roster, gocache.NoExpiration)
	return roster, nil
}

// fuzzyMatch scans the roster for the closest name by edit distance. A match
// is accepted only within the distance and confidence bounds.
func (r *Resolver) fuzzyMatch(norm string, roster map[string]int64, parkID int64) (MappingResult, bool) {
	bestDistance := -1
	var bestID int64
	var bestName string

	for candidate, rideID := range roster {
		d := levenshtein.ComputeDistance(norm, candidate)
		if bestDistance < 0 || d < bestDistance {
			bestDistance = d
			bestID = rideID
			bestName = candidate
		}
	}

	if bestDistance < 0 || bestDistance > maxFuzzyDistance {
		return MappingResult{}, false
	}

	confidence := fuzzyConfidence(bestDistance, norm, bestName)
	if confidence < minFuzzyConfidence {
		return MappingResult{}, false
	}

	r.logger.Debug("fuzzy ride match",
		"park_id", parkID, "name", norm, "matched", bestName, "distance", bestDistance, "confidence", confidence)

	distance := bestDistance
	return MappingResult{RideID: &bestID, ParkID: &parkID, MatchType: MatchFuzzyName, Confidence: confidence, Distance: &distance}, true
}

// fuzzyConfidence maps an edit distance to a confidence relative to the
// longer of the two names: 1 - distance/maxLen. Monotonically decreasing in
// distance, 1.0 at distance zero.
func fuzzyConfidence(distance int, a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	c := 1.0 - float64(distance)/float64(maxLen)
	if c < 0 {
		return 0
	}
	return c
}

// createRide inserts a new catalog row for an unmatched entity.
func (r *Resolver) createRide(ctx context.Context, externalID, name, norm string, parkID int64, isShow bool) (MappingResult, error) {
	ride := &model.Ride{
		ParkID:     parkID,
		Name:       name,
		Code:       SyntheticCode(externalID),
		ExternalID: &externalID,
		IsShow:     isShow,
		Active:     true,
	}
	if err := r.catalog.CreateRide(ctx, ride); err != nil {
		return MappingResult{}, fmt.Errorf("create ride %q under park %d: %w", name, parkID, err)
	}

	r.uuidCache.Set(externalID, ride.ID, gocache.NoExpiration)
	if norm != "" {
		r.nameCache.Set(fmt.Sprintf("%d:%s", parkID, norm), ride.ID, gocache.NoExpiration)
		if cached, ok := r.rosterCache.Get(fmt.Sprintf("%d", parkID)); ok {
			cached.(map[string]int64)[norm] = ride.ID
		}
	}

	r.logger.Info("created catalog ride", "park_id", parkID, "name", name, "external_id", externalID)
	return MappingResult{RideID: &ride.ID, ParkID: &parkID, MatchType: MatchCreated, Confidence: 1.0}, nil
}

// rememberName caches a resolved (park, name) pair, and the UUID when one was
// supplied so the next event for this entity short-circuits.
func (r *Resolver) rememberName(nameKey string, rideID int64, externalID string) {
	r.nameCache.Set(nameKey, rideID, gocache.NoExpiration)
	if externalID != "" {
		r.uuidCache.Set(externalID, rideID, gocache.NoExpiration)
	}
}

// adoptExternalID persists a newly observed archive UUID onto a ride matched
// by name.
func (r *Resolver) adoptExternalID(ctx context.Context, rideID int64, externalID string) error {
	if externalID == "" {
		return nil
	}
	if err := r.catalog.SetRideExternalID(ctx, rideID, externalID); err != nil {
		return fmt.Errorf("adopt external id %s for ride %d: %w", externalID, rideID, err)
	}
	return nil
}

// SyntheticCode derives a stable external-facing code from an archive UUID.
func SyntheticCode(externalID string) string {
	sum := sha1.Sum([]byte(externalID))
	return hex.EncodeToString(sum[:])[:10]
}
