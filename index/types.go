// Package index provides the persistent metadata index for the browser
// store, backed by bbolt. One bucket per record kind, with timestamp-ordered
// secondary indexes for eviction queries.
package index

import "time"

// SameSite is the cookie SameSite attribute.
type SameSite string

const (
	SameSiteNone   SameSite = "None"
	SameSiteLax    SameSite = "Lax"
	SameSiteStrict SameSite = "Strict"
)

// CacheEntry is the metadata row for one cached resource. The resource
// bytes live in a blob file named by BlobRef; row and blob are created and
// removed together.
type CacheEntry struct {
	Key         string     `json:"key"`
	ContentType string     `json:"content_type"`
	BlobRef     string     `json:"blob_ref"`
	Size        int64      `json:"size"`
	CreatedAt   time.Time  `json:"created_at"`
	AccessedAt  time.Time  `json:"accessed_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Cookie is one stored cookie. At most one row exists per
// (Name, Domain, Path); writes are upserts.
type Cookie struct {
	Name         string     `json:"name"`
	Value        string     `json:"value"`
	Domain       string     `json:"domain"`
	Path         string     `json:"path"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"` // nil = session cookie
	Secure       bool       `json:"secure"`
	HttpOnly     bool       `json:"http_only"`
	SameSite     SameSite   `json:"same_site"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed time.Time  `json:"last_accessed"`
}

// HistoryItem is one visited URL, upserted by URL.
type HistoryItem struct {
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	VisitCount int64     `json:"visit_count"`
	LastVisit  time.Time `json:"last_visit"`
	CreatedAt  time.Time `json:"created_at"`
}

// Bookmark is one user bookmark. Never evicted automatically.
type Bookmark struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Folder    string    `json:"folder"`
	CreatedAt time.Time `json:"created_at"`
}

// MailHeader is one cached mail envelope summary.
type MailHeader struct {
	UID      uint64    `json:"uid"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Date     time.Time `json:"date"`
	Size     int64     `json:"size"`
	Flags    []string  `json:"flags,omitempty"`
	Folder   string    `json:"folder"`
	CachedAt time.Time `json:"cached_at"`
}

// MailAttachment is one attachment stored inline with a mail body.
type MailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// MailBody is one cached mail body with its attachments.
type MailBody struct {
	UID         uint64           `json:"uid"`
	Content     string           `json:"content"`
	ContentType string           `json:"content_type"`
	Attachments []MailAttachment `json:"attachments,omitempty"`
	CachedAt    time.Time        `json:"cached_at"`
}
