package parse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
)

// gbk encodes UTF-8 fixture text the way the Windows service writes it.
func gbk(t *testing.T, lines ...string) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	w := transform.NewWriter(&buf, simplifiedchinese.GBK.NewEncoder())
	if _, err := w.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return &buf
}

func parseAll(t *testing.T, maxRecords int, lines ...string) []model.CorrelatedRecord {
	t.Helper()
	c := NewCorrelator(zerolog.Nop())
	records, err := c.Parse(context.Background(), gbk(t, lines...), "test.log", maxRecords)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return records
}

const (
	reqLine  = `2024-08-11 10:30:00,000 [INFO] 查询山姆是否会员，请求地址＝http://sam/api 参数={"licensePlateNbr":"粤A12345"}`
	respLine = `2024-08-11 10:30:01,200 [INFO] 查询山姆是否会员，返回结果＝{"freeParking": true, "rejectReason": ""}`
)

func TestParse_MatchedRequestResponsePair(t *testing.T) {
	records := parseAll(t, 0,
		reqLine,
		"some unrelated noise without a timestamp",
		respLine,
	)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.PlateNumber != "粤A12345" {
		t.Errorf("plate = %q, want 粤A12345", r.PlateNumber)
	}
	if !r.FreeParking {
		t.Error("expected freeParking true")
	}
	wantReq := time.Date(2024, 8, 11, 10, 30, 0, 0, time.UTC)
	wantResp := time.Date(2024, 8, 11, 10, 30, 1, 200_000_000, time.UTC)
	if !r.CallTime.Equal(wantReq) {
		t.Errorf("call time = %v, want %v", r.CallTime, wantReq)
	}
	if !r.ResponseTime.Equal(wantResp) {
		t.Errorf("response time = %v, want %v", r.ResponseTime, wantResp)
	}
	if r.Kind != model.RecordKindNormal {
		t.Errorf("kind = %q, want normal", r.Kind)
	}
	if r.ResponseTime.Before(r.CallTime) {
		t.Error("response must not precede request")
	}
}

func TestParse_RejectReason(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 11:00:00,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"京B99999"}`,
		`2024-08-11 11:00:00,500 查询山姆是否会员，返回结果＝{"freeParking": false, "rejectReason": "非会员车辆"}`,
	)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].FreeParking {
		t.Error("expected freeParking false")
	}
	if records[0].RejectReason != "非会员车辆" {
		t.Errorf("reject reason = %q", records[0].RejectReason)
	}
}

func TestParse_ResponseBeyondToleranceDropped(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 10:00:00,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"粤A11111"}`,
		`2024-08-11 10:05:01,000 查询山姆是否会员，返回结果＝{"freeParking": true}`,
	)
	if len(records) != 0 {
		t.Fatalf("expected unmatched normal response to be dropped, got %d records", len(records))
	}
}

func TestParse_ResponseAtToleranceBoundaryMatches(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 10:00:00,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"粤A11111"}`,
		`2024-08-11 10:05:00,000 查询山姆是否会员，返回结果＝{"freeParking": true}`,
	)
	if len(records) != 1 {
		t.Fatalf("expected a 5-minute gap to still match, got %d records", len(records))
	}
}

func TestParse_ResponseBeforeRequestNotMatched(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 10:00:05,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"粤A22222"}`,
		`2024-08-11 10:00:00,000 查询山姆是否会员，返回结果＝{"freeParking": true}`,
	)
	if len(records) != 0 {
		t.Fatalf("a response must only match earlier requests, got %d records", len(records))
	}
}

func TestParse_NearestRequestWins(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 10:00:00,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"老车牌"}`,
		`2024-08-11 10:01:00,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"新车牌"}`,
		`2024-08-11 10:01:02,000 查询山姆是否会员，返回结果＝{"freeParking": true}`,
	)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].PlateNumber != "新车牌" {
		t.Errorf("matched plate = %q, want nearest request 新车牌", records[0].PlateNumber)
	}
}

func TestParse_RequestConsumedOnce(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 10:00:00,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"粤A33333"}`,
		`2024-08-11 10:00:01,000 查询山姆是否会员，返回结果＝{"freeParking": true}`,
		`2024-08-11 10:00:02,000 查询山姆是否会员，返回结果＝{"freeParking": false}`,
	)
	if len(records) != 1 {
		t.Fatalf("one request must correlate at most one response, got %d records", len(records))
	}
}

func TestParse_JSONErrorCorrelated(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 12:00:00,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"粤A66666"}`,
		`2024-08-11 12:00:03,000 查询山姆是否会员，返回结果＝{"code": "ERROR", "appName": "members-parking-service", "message": "调用超时", "returnCode": "TIMEOUT", "responseTime": 3000, "traceId": "trace-42"}`,
	)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Kind != model.RecordKindJSONError {
		t.Fatalf("kind = %q, want json_error", r.Kind)
	}
	if r.PlateNumber != "粤A66666" {
		t.Errorf("plate = %q, want the correlated request's plate", r.PlateNumber)
	}
	for _, part := range []string{"TIMEOUT", "trace-42", "3000ms", "调用超时"} {
		if !strings.Contains(r.RejectReason, part) {
			t.Errorf("reject reason %q missing %q", r.RejectReason, part)
		}
	}
}

func TestParse_JSONErrorUnmatchedKept(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 12:30:00,000 查询山姆是否会员，返回结果＝{"code": "ERROR", "appName": "members-parking-service", "message": "绑定异常", "returnCode": "E1001", "traceId": "t-1"}`,
	)
	if len(records) != 1 {
		t.Fatalf("unmatched error responses must still be emitted, got %d records", len(records))
	}
	r := records[0]
	if r.PlateNumber != model.UnmatchedPlate {
		t.Errorf("plate = %q, want %q", r.PlateNumber, model.UnmatchedPlate)
	}
	if !strings.Contains(r.RejectReason, "E1001") {
		t.Errorf("reject reason %q missing error code", r.RejectReason)
	}
	if !r.ResponseTime.Equal(r.CallTime) {
		t.Error("unmatched error records carry a single timestamp")
	}
}

func TestParse_ForeignErrorPayloadIgnored(t *testing.T) {
	records := parseAll(t, 0,
		`2024-08-11 12:40:00,000 查询山姆是否会员，返回结果＝{"code": "ERROR", "appName": "members-parking-service-other", "message": "x"}`,
	)
	if len(records) != 0 {
		t.Fatalf("payloads from other services must be ignored, got %d records", len(records))
	}
}

func TestParse_LinesWithoutTimestampSkipped(t *testing.T) {
	records := parseAll(t, 0,
		`no timestamp 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"粤A12345"}`,
		respLine,
	)
	if len(records) != 0 {
		t.Fatalf("lines without a leading timestamp must be dropped, got %d records", len(records))
	}
}

func TestParse_MaxRecordsStopsEarly(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		ts := time.Date(2024, 8, 11, 10, i, 0, 0, time.UTC)
		lines = append(lines,
			ts.Format("2006-01-02 15:04:05")+`,000 查询山姆是否会员，请求地址＝x 参数={"licensePlateNbr":"粤A00001"}`,
			ts.Add(time.Second).Format("2006-01-02 15:04:05")+`,000 查询山姆是否会员，返回结果＝{"freeParking": true}`,
		)
	}
	records := parseAll(t, 2, lines...)
	if len(records) != 2 {
		t.Fatalf("expected early stop at 2 records, got %d", len(records))
	}
}

func TestParse_Deterministic(t *testing.T) {
	lines := []string{
		reqLine,
		respLine,
		`2024-08-11 12:30:00,000 查询山姆是否会员，返回结果＝{"code": "ERROR", "appName": "members-parking-service", "message": "m", "returnCode": "E1", "traceId": "t"}`,
	}
	first := parseAll(t, 0, lines...)
	second := parseAll(t, 0, lines...)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("parsing the same content twice must yield identical records")
	}
}

type failingReader struct{ r io.Reader }

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset")
	}
	return n, err
}

func TestParse_StreamFailureAborts(t *testing.T) {
	c := NewCorrelator(zerolog.Nop())
	_, err := c.Parse(context.Background(), &failingReader{r: gbk(t, reqLine, respLine)}, "test.log", 0)
	if err == nil {
		t.Fatal("expected a stream read failure to surface")
	}
}
