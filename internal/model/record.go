package model

import "time"

// RecordKind distinguishes normal membership responses from structured
// error responses embedded in the log stream.
type RecordKind string

const (
	RecordKindNormal    RecordKind = "normal"
	RecordKindJSONError RecordKind = "json_error"
)

// UnmatchedPlate is stored instead of a null plate when an error response
// could not be correlated with any pending request.
const UnmatchedPlate = "UNMATCHED"

// CorrelatedRecord is one request/response pair extracted from a log file.
// (PlateNumber, CallTime) is the natural key at the storage boundary.
type CorrelatedRecord struct {
	PlateNumber  string     `json:"plate_number"`
	CallTime     time.Time  `json:"call_time"`
	ResponseTime time.Time  `json:"response_time"`
	FreeParking  bool       `json:"free_parking"`
	RejectReason string     `json:"reject_reason"`
	FileSource   string     `json:"file_source"`
	Kind         RecordKind `json:"record_kind"`
	RequestLine  int        `json:"request_line,omitempty"`
	ResponseLine int        `json:"response_line,omitempty"`
}

// FileKind marks a descriptor as the live log file or a rotated slice.
type FileKind string

const (
	FileKindCurrent FileKind = "current"
	FileKindSlice   FileKind = "slice"
)

// FileDescriptor is one discovered log file. Index is 0 for the current
// file and the rotation number for slices; descriptors are ordered by it.
type FileDescriptor struct {
	Path      string
	Name      string
	Kind      FileKind
	Index     int
	SizeBytes int64
}

// ProcessStatus is the terminal state of one file's ingestion pass.
type ProcessStatus string

const (
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
)

// FileProgress is the per-file progress record upserted after every pass,
// keyed by FileName.
type FileProgress struct {
	FileName         string        `json:"file_name"`
	FilePath         string        `json:"file_path"`
	SizeBytes        int64         `json:"size_bytes"`
	TotalRecords     int           `json:"total_records"`
	ProcessedRecords int           `json:"processed_records"`
	Status           ProcessStatus `json:"status"`
	ProcessedAt      time.Time     `json:"processed_at"`
}

// Watermark is the cutoff state derived from already-persisted data. Zero
// times mean the corresponding source has no rows yet.
type Watermark struct {
	LastProcessingTime time.Time `json:"last_processing_time"`
	LastRecordTime     time.Time `json:"last_record_time"`
}

// Cutoff returns the later of the two watermark times. Records at or below
// the cutoff are considered already ingested.
func (w Watermark) Cutoff() time.Time {
	if w.LastRecordTime.After(w.LastProcessingTime) {
		return w.LastRecordTime
	}
	return w.LastProcessingTime
}

// UpsertResult reports how a batch upsert resolved.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// TimeRange bounds the records covered by one ingestion run.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Summary is returned by a manual ingestion trigger.
type Summary struct {
	ProcessedFiles  int       `json:"processed_files"`
	TotalNewRecords int       `json:"total_new_records"`
	TimeRange       TimeRange `json:"time_range"`
}

// RunStatus is the scheduler state exposed to the HTTP layer.
type RunStatus struct {
	IsRunning         bool       `json:"is_running"`
	LastProcessTime   *time.Time `json:"last_process_time,omitempty"`
	ScheduledTriggers []string   `json:"scheduled_triggers"`
}
