// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var catalogJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// RootState is the lifecycle state of one root catalog within a run.
type RootState string

// Root states reported in summaries, notifications and the status endpoint.
const (
	RootPending         RootState = "pending"
	RootListing         RootState = "listing"
	RootCompleted       RootState = "completed"
	RootPartiallyFailed RootState = "partially_failed"
	RootFailed          RootState = "failed"
	RootSkipped         RootState = "skipped"
)

// LayerRecord is the normalized output unit. Records are unique by URL.
type LayerRecord struct {
	LayerName    string   `json:"layer_name"`
	Fields       []string `json:"fields"`
	Description  string   `json:"description"`
	GeometryType string   `json:"geometry_type"`
	URL          string   `json:"url"`
}

// CatalogListing is the body of a root or folder listing.
type CatalogListing struct {
	Folders  []string       `json:"folders"`
	Services []ServiceEntry `json:"services"`
}

// ServiceEntry names one service inside a listing.
type ServiceEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ServiceDescriptor is the body of a service endpoint.
type ServiceDescriptor struct {
	Layers []LayerRef `json:"layers"`
	Tables []LayerRef `json:"tables"`
}

// LayerRef points at one layer or table of a service. ID is nil when the
// service listed the entry without an id.
type LayerRef struct {
	ID   *int   `json:"id"`
	Name string `json:"name"`
}

// LayerDescriptor is the body of a layer endpoint. Pointer fields
// distinguish absent or null values from empty strings.
type LayerDescriptor struct {
	Name         *string           `json:"name"`
	Description  *string           `json:"description"`
	GeometryType *string           `json:"geometryType"`
	Fields       []FieldDescriptor `json:"fields"`
}

// FieldDescriptor describes one attribute column of a layer.
type FieldDescriptor struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Alias string `json:"alias,omitempty"`
}

// Document is a successfully fetched and validated catalog response.
type Document struct {
	URL string
	Raw []byte
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return catalogJSON.Unmarshal(d.Raw, v)
}

// FetchRequest captures the inputs for one HTTP attempt.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse captures the raw result of one HTTP attempt.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// WalkStats counts what a walk visited.
type WalkStats struct {
	Folders         int `json:"folders"`
	Services        int `json:"services"`
	Layers          int `json:"layers"`
	SkippedServices int `json:"skipped_services"`
	SkippedLayers   int `json:"skipped_layers"`
	FailedNodes     int `json:"failed_nodes"`
}

// WalkResult is the outcome of walking one root catalog.
type WalkResult struct {
	Root    string
	State   RootState
	Records []LayerRecord
	Stats   WalkStats
}

// RootOutcome summarizes how a single root was handled by a run.
type RootOutcome struct {
	Root     string    `json:"root"`
	State    RootState `json:"state"`
	Records  int       `json:"records"`
	Written  int       `json:"written"`
	Stats    WalkStats `json:"stats"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished_at"`
}

// Summary reports the counts of one run.
type Summary struct {
	RunID           string        `json:"run_id"`
	Started         time.Time     `json:"started_at"`
	Finished        time.Time     `json:"finished_at,omitempty"`
	Completed       int           `json:"completed"`
	PartiallyFailed int           `json:"partially_failed"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	RecordsWritten  int           `json:"records_written"`
	Active          string        `json:"active_root,omitempty"`
	Roots           []RootOutcome `json:"roots"`
}

// RootNotice is published after each root leaves the run.
type RootNotice struct {
	RunID          string    `json:"run_id"`
	Root           string    `json:"root"`
	State          RootState `json:"state"`
	Records        int       `json:"records"`
	RecordsWritten int       `json:"records_written"`
	FailedNodes    int       `json:"failed_nodes"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PartitionKey keys notices by root so brokers keep per-root ordering.
func (n RootNotice) PartitionKey() string {
	return n.Root
}
