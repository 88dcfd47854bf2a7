// Package parse turns raw membership-service log files into correlated
// request/response records. Files are written by a Windows service in GBK,
// so every line is decoded before any pattern matching; multi-byte plate
// provinces corrupt otherwise.
package parse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
)

// matchTolerance is the widest request→response gap still considered one
// exchange. Responses farther from every pending request stay unmatched.
const matchTolerance = 5 * time.Minute

// errorAppName identifies structured error payloads emitted by the
// membership service itself; other embedded JSON is ignored.
const errorAppName = "members-parking-service"

const (
	requestMarker  = "查询山姆是否会员，请求地址＝"
	responseMarker = "查询山姆是否会员，返回结果＝"
)

var (
	timestampPattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(,\d{3})?`)
	platePattern        = regexp.MustCompile(`"licensePlateNbr"\s*:\s*"([^"]+)"`)
	freeParkingPattern  = regexp.MustCompile(`"freeParking":\s*(true|false)`)
	rejectReasonPattern = regexp.MustCompile(`"rejectReason":\s*"([^"]*)"`)
	errorPayloadPattern = regexp.MustCompile(`\{.*?"code":\s*"ERROR".*?"appName":\s*"` + errorAppName + `".*?\}`)
)

// Opener supplies file streams; satisfied by share.Connector.
type Opener interface {
	Open(path string) (io.ReadCloser, error)
}

// pendingRequest is one outbound query waiting for its response, scoped to
// a single file's parse.
type pendingRequest struct {
	ts    time.Time
	plate string
	line  int
}

// errorPayload is the structured error shape the membership service embeds
// in response lines when the upstream call fails.
type errorPayload struct {
	Code         string `json:"code"`
	AppName      string `json:"appName"`
	Message      string `json:"message"`
	ReturnCode   string `json:"returnCode"`
	ResponseTime int64  `json:"responseTime"`
	TraceID      string `json:"traceId"`
}

// Correlator parses log files into correlated records. Safe for reuse
// across files; all per-file state lives inside a single Parse call.
type Correlator struct {
	log zerolog.Logger
}

// NewCorrelator returns a Correlator.
func NewCorrelator(log zerolog.Logger) *Correlator {
	return &Correlator{log: log.With().Str("component", "parse").Logger()}
}

// ParseFile opens filePath through the opener and parses it. See Parse.
func (c *Correlator) ParseFile(ctx context.Context, opener Opener, filePath string, maxRecords int) ([]model.CorrelatedRecord, error) {
	f, err := opener.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Parse(ctx, f, path.Base(filePath), maxRecords)
}

// Parse streams r line by line, correlating each response with the nearest
// earlier unmatched request within the tolerance window. The stream is
// decoded from GBK and never fully buffered. Parsing is a pure function of
// the stream content: the same file always yields the same records.
//
// maxRecords > 0 stops the scan early once that many records exist; the
// rest of the stream is left unread. A read failure aborts the parse; a
// malformed error payload only skips its line.
func (c *Correlator) Parse(ctx context.Context, r io.Reader, source string, maxRecords int) ([]model.CorrelatedRecord, error) {
	start := time.Now()
	sc := bufio.NewScanner(transform.NewReader(r, simplifiedchinese.GBK.NewDecoder()))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	pending := make(map[time.Time]pendingRequest)
	var records []model.CorrelatedRecord
	lineNo, requests, responses, jsonErrors := 0, 0, 0, 0

scan:
	for sc.Scan() {
		lineNo++
		if lineNo%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := sc.Text()
		ts, ok := leadingTimestamp(line)
		if !ok {
			continue
		}

		switch {
		case strings.Contains(line, requestMarker):
			m := platePattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			pending[ts] = pendingRequest{ts: ts, plate: m[1], line: lineNo}
			requests++

		case strings.Contains(line, responseMarker):
			if fp := freeParkingPattern.FindStringSubmatch(line); fp != nil {
				req, ok := matchRequest(pending, ts)
				if !ok {
					// Unmatched normal responses carry nothing worth keeping.
					continue
				}
				delete(pending, req.ts)
				reason := ""
				if rr := rejectReasonPattern.FindStringSubmatch(line); rr != nil {
					reason = rr[1]
				}
				records = append(records, model.CorrelatedRecord{
					PlateNumber:  req.plate,
					CallTime:     req.ts,
					ResponseTime: ts,
					FreeParking:  fp[1] == "true",
					RejectReason: reason,
					FileSource:   source,
					Kind:         model.RecordKindNormal,
					RequestLine:  req.line,
					ResponseLine: lineNo,
				})
				responses++
			} else if payload := errorPayloadPattern.FindString(line); payload != "" {
				rec, err := c.errorRecord(payload, ts, lineNo, source)
				if err != nil {
					c.log.Warn().Err(err).Int("line", lineNo).Str("file", source).
						Msg("malformed error payload, line skipped")
					continue
				}
				if rec == nil {
					continue
				}
				if req, ok := matchRequest(pending, ts); ok {
					delete(pending, req.ts)
					// Error payloads do not reliably carry the plate; the
					// correlated request is authoritative.
					rec.PlateNumber = req.plate
					rec.CallTime = req.ts
					rec.RequestLine = req.line
				} else {
					rec.PlateNumber = model.UnmatchedPlate
				}
				records = append(records, *rec)
				jsonErrors++
			}
		}

		if maxRecords > 0 && len(records) >= maxRecords {
			break scan
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}

	c.log.Info().
		Str("file", source).
		Int("lines", lineNo).
		Int("requests", requests).
		Int("responses", responses).
		Int("json_errors", jsonErrors).
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("file parsed")
	return records, nil
}

// errorRecord builds a record from a structured error payload. Both
// timestamps start as the response line's; correlation overwrites the
// request side when a match exists. Returns nil when the payload decodes
// but is not a membership-service error.
func (c *Correlator) errorRecord(payload string, ts time.Time, lineNo int, source string) (*model.CorrelatedRecord, error) {
	var p errorPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, err
	}
	if p.Code != "ERROR" || p.AppName != errorAppName {
		return nil, nil
	}
	return &model.CorrelatedRecord{
		CallTime:     ts,
		ResponseTime: ts,
		FreeParking:  false,
		RejectReason: synthesizeReason(p),
		FileSource:   source,
		Kind:         model.RecordKindJSONError,
		RequestLine:  lineNo,
		ResponseLine: lineNo,
	}, nil
}

// synthesizeReason flattens the structured payload into one human-readable
// string so downstream consumers see the same shape for both record kinds.
func synthesizeReason(p errorPayload) string {
	var parts []string
	if p.Message != "" {
		parts = append(parts, "message: "+p.Message)
	}
	code := p.ReturnCode
	if code == "" {
		code = p.Code
	}
	parts = append(parts, "code: "+code)
	if p.ResponseTime > 0 {
		parts = append(parts, fmt.Sprintf("latency: %dms", p.ResponseTime))
	}
	if p.TraceID != "" {
		parts = append(parts, "trace: "+p.TraceID)
	}
	return strings.Join(parts, " | ")
}

// matchRequest finds the pending request with the smallest non-negative
// gap to the response timestamp, within the tolerance window. Responses
// only ever match requests seen earlier in the same pass.
func matchRequest(pending map[time.Time]pendingRequest, responseTS time.Time) (pendingRequest, bool) {
	var best pendingRequest
	bestGap := matchTolerance + 1
	for _, req := range pending {
		gap := responseTS.Sub(req.ts)
		if gap >= 0 && gap < bestGap {
			bestGap = gap
			best = req
		}
	}
	if bestGap > matchTolerance {
		return pendingRequest{}, false
	}
	return best, true
}

// leadingTimestamp parses the line's leading "YYYY-MM-DD HH:MM:SS[,mmm]".
// Lines without one are not log records and are dropped silently.
func leadingTimestamp(line string) (time.Time, bool) {
	m := timestampPattern.FindString(line)
	if m == "" {
		return time.Time{}, false
	}
	layout := "2006-01-02 15:04:05"
	if strings.Contains(m, ",") {
		m = strings.Replace(m, ",", ".", 1)
		layout = "2006-01-02 15:04:05.000"
	}
	ts, err := time.Parse(layout, m)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
