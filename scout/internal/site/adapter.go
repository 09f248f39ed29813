package site

import "github.com/PuerkitoBio/goquery"

// Condition is the adapter's reading of a page that never showed content.
type Condition string

const (
	ConditionUnknown     Condition = ""
	ConditionNotFound    Condition = "not_found"
	ConditionBlocked     Condition = "blocked"
	ConditionRateLimited Condition = "rate_limited"
)

// Adapter isolates platform-specific document knowledge from the engine.
// All detection and extraction methods are pure functions of a snapshot.
type Adapter interface {
	// Platform is the short platform key stored with every record ("x", "xueqiu").
	Platform() string
	// BaseURL is the platform home; used for the session probe and cookie scoping.
	BaseURL() string
	// LoginURL is where the interactive login flow starts.
	LoginURL() string
	// TargetURL builds the page URL for a target.
	TargetURL(t Target) (string, error)

	// IsAuthenticated reports a positive signed-in marker.
	IsAuthenticated(doc *goquery.Document) bool
	// LoginRequired reports that the platform is asking for credentials.
	LoginRequired(doc *goquery.Document) bool
	// ContentLoaded reports that the target's content area rendered.
	ContentLoaded(doc *goquery.Document) bool
	// Diagnose classifies a page whose content never loaded.
	Diagnose(doc *goquery.Document) Condition

	// ExtractRecords returns every record visible in the snapshot.
	ExtractRecords(doc *goquery.Document) []RawRecord
	// ExtractProfile reads the author header of a timeline page.
	ExtractProfile(doc *goquery.Document) (AuthorProfile, bool)
}
