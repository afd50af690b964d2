package feed

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"think/api/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 50
)

var categories = map[string]struct{}{
	"career":        {},
	"finance":       {},
	"health":        {},
	"personal":      {},
	"education":     {},
	"relationships": {},
	"other":         {},
}

var mySortFields = map[string]struct{}{
	"createdAt":       {},
	"updatedAt":       {},
	"reviewDate":      {},
	"confidenceLevel": {},
	"title":           {},
}

var publicSortFields = map[string]struct{}{
	"createdAt":    {},
	"updatedAt":    {},
	"likeCount":    {},
	"commentCount": {},
}

// Params is a fully normalized feed query. Malformed input degrades to
// defaults; a feed read never fails on a bad filter.
type Params struct {
	Page      int
	Limit     int
	Category  string // enum value or "all"
	Reviewed  string // "true", "false" or "all"
	SortBy    string
	SortOrder string // "asc" or "desc"
}

// ParseMyParams normalizes query values for the owner-scoped feed.
func ParseMyParams(query url.Values) Params {
	p := parseCommon(query, mySortFields)
	switch query.Get("reviewed") {
	case "true":
		p.Reviewed = "true"
	case "false":
		p.Reviewed = "false"
	default:
		p.Reviewed = "all"
	}
	return p
}

// ParsePublicParams normalizes query values for the community feed.
func ParsePublicParams(query url.Values) Params {
	p := parseCommon(query, publicSortFields)
	p.Reviewed = "all"
	return p
}

func parseCommon(query url.Values, sortFields map[string]struct{}) Params {
	page := 1
	if parsed, err := strconv.Atoi(query.Get("page")); err == nil && parsed > 1 {
		page = parsed
	}

	limit := defaultLimit
	if parsed, err := strconv.Atoi(query.Get("limit")); err == nil {
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	category := query.Get("category")
	if _, ok := categories[category]; !ok {
		category = "all"
	}

	sortBy := query.Get("sortBy")
	if _, ok := sortFields[sortBy]; !ok {
		sortBy = "createdAt"
	}

	sortOrder := "desc"
	if query.Get("sortOrder") == "asc" {
		sortOrder = "asc"
	}

	return Params{
		Page:      page,
		Limit:     limit,
		Category:  category,
		SortBy:    sortBy,
		SortOrder: sortOrder,
	}
}

// MyKey is the cache key for an owner-scoped page. The format is shared
// with every instance reading the same cache, so it must stay stable.
func MyKey(ownerID string, p Params) string {
	return fmt.Sprintf("myDecisions:%s:%d:%d:%s:%s:%s:%s",
		ownerID, p.Page, p.Limit, p.Category, p.Reviewed, p.SortBy, p.SortOrder)
}

// PublicKey is the cache key for a community feed page.
func PublicKey(p Params) string {
	return fmt.Sprintf("publicDecisions:%d:%d:%s:%s:%s",
		p.Page, p.Limit, p.Category, p.SortBy, p.SortOrder)
}

func (p Params) filter() store.FeedFilter {
	f := store.FeedFilter{
		Category: p.Category,
		SortBy:   p.SortBy,
		SortAsc:  p.SortOrder == "asc",
		Offset:   (p.Page - 1) * p.Limit,
		Limit:    p.Limit,
	}
	switch p.Reviewed {
	case "true":
		reviewed := true
		f.Reviewed = &reviewed
	case "false":
		reviewed := false
		f.Reviewed = &reviewed
	}
	return f
}

// UserFilter scopes a feed query to one author's decisions. Private
// decisions are included only when the viewer is that author.
func UserFilter(userID string, includePrivate bool, p Params) store.FeedFilter {
	f := p.filter()
	f.OwnerID = userID
	f.PublicOnly = !includePrivate
	return f
}

// ReviewQueueFilter selects the owner's unreviewed decisions whose
// review date has passed, oldest due first.
func ReviewQueueFilter(ownerID string, now time.Time, page, limit int) store.FeedFilter {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	reviewed := false
	return store.FeedFilter{
		OwnerID:   ownerID,
		Reviewed:  &reviewed,
		DueBefore: &now,
		SortBy:    "reviewDate",
		SortAsc:   true,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	}
}
