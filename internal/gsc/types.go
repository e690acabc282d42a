package gsc

import "fmt"

// Search Console API limits and constants
const (
	// PageSize is the maximum number of rows the Search Analytics API
	// returns per query. The API exposes no total count and no has-more
	// flag: a response with exactly PageSize rows is the only evidence
	// that another page may exist.
	PageSize = 25000

	// DefaultEndpoint is the base URL for the Search Console API.
	DefaultEndpoint = "https://searchconsole.googleapis.com"

	// DefaultBatchPath is the batch endpoint accepting multipart/mixed
	// bundles of sub-requests.
	DefaultBatchPath = "/batch"

	// DefaultTokenURL is the OAuth token endpoint used for access token
	// refresh.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// Dimensions accepted by the search analytics query endpoint.
const (
	DimensionQuery = "query"
	DimensionPage  = "page"
	DimensionDate  = "date"
)

// Row is one search analytics result row. Keys holds one value per
// requested dimension, in request order.
type Row struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// SubRequest is one logical query bundled into a batch call.
// ID is "date:startRow" so responses can be matched back to the
// frontier entry that produced them.
type SubRequest struct {
	ID         string
	Site       string
	Date       string // YYYY-MM-DD
	StartRow   int
	Dimensions []string
}

// SubResponse is the demultiplexed result of one SubRequest.
// Exactly one of Rows or Err is meaningful. Attempts records how many
// outbound batch calls were made before this response settled.
type SubResponse struct {
	ID         string
	StatusCode int
	Rows       []Row
	Err        error
	Attempts   int
}

// SubID builds the sub-request identifier for a (date, startRow) pair.
func SubID(date string, startRow int) string {
	return fmt.Sprintf("%s:%d", date, startRow)
}

// searchAnalyticsRequest is the request body for the
// searchAnalytics/query endpoint.
type searchAnalyticsRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions"`
	RowLimit   int      `json:"rowLimit"`
	StartRow   int      `json:"startRow"`
}

// searchAnalyticsResponse is the response body from the
// searchAnalytics/query endpoint. The API returns only rows; callers
// infer pagination state from their count.
type searchAnalyticsResponse struct {
	Rows []Row `json:"rows"`
}

// tokenRefreshResponse is the OAuth token refresh response.
type tokenRefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
