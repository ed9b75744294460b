package crawler

import (
	"time"
)

// OrderType selects how a work order is executed.
type OrderType string

// Work order types.
const (
	OrderGather OrderType = "GATHER"
	OrderBuild  OrderType = "BUILD"
)

// Status is the outcome reported for a data source.
type Status string

// Data source status values.
const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Reason explains a failure.
type Reason string

// Failure reasons.
const (
	ReasonNone           Reason = ""
	ReasonInvalidRootURL Reason = "INVALID_ROOT_URL"
	ReasonDuplicate      Reason = "DUPLICATE"
	ReasonRobotsTxt      Reason = "ROBOTS_TXT"
	ReasonBlocked        Reason = "BLOCKED"
	ReasonBackoff        Reason = "BACKOFF"
	ReasonNoProducts     Reason = "NO_PRODUCTS"
	ReasonException      Reason = "EXCEPTION"
	ReasonShutdown       Reason = "SHUTDOWN"
)

// DataSource is a crawlable site plus the report of its last run.
type DataSource struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	AssetType string `json:"asset_type,omitempty"`
	// BotKey selects a registered site bot; empty means the generic crawler.
	BotKey string `json:"bot_key,omitempty"`
	// CrawlRate is the base delay between downloads in milliseconds; zero uses the default.
	CrawlRate    int `json:"crawl_rate,omitempty"`
	FailureCount int `json:"failure_count"`

	Status  Status    `json:"status,omitempty"`
	Reason  Reason    `json:"reason,omitempty"`
	Details string    `json:"details,omitempty"`
	LastRun time.Time `json:"last_run,omitempty"`
	Stats   Stats     `json:"stats"`
}

// WorkOrder is one unit of work received from the cluster.
type WorkOrder struct {
	ID         string     `json:"id"`
	Type       OrderType  `json:"type"`
	Source     DataSource `json:"data_source"`
	URLsToWork []string   `json:"urls_to_work,omitempty"`
}

// Stats summarises one run.
type Stats struct {
	RunID             string        `json:"run_id,omitempty"`
	Pages             int           `json:"pages"`
	Rejected          int           `json:"rejected"`
	BackoffResponses  int           `json:"backoff_responses"`
	ProductsBuilt     int           `json:"products_built"`
	ProductsRefreshed int           `json:"products_refreshed"`
	ProductsDeleted   int           `json:"products_deleted"`
	ProductsSaved     int           `json:"products_saved"`
	MaxDepth          int           `json:"max_depth"`
	Duration          time.Duration `json:"duration"`
}

// Products is the number of listings the run confirmed.
func (s Stats) Products() int {
	return s.ProductsBuilt + s.ProductsRefreshed
}
