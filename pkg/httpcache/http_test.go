package httpcache

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestResponseToEntry(t *testing.T) {
	tests := []struct {
		name    string
		resp    *http.Response
		wantErr bool
	}{
		{
			name: "response with validators",
			resp: &http.Response{
				StatusCode: 200,
				Header: http.Header{
					"Expires":       []string{time.Now().Add(1 * time.Hour).Format(http.TimeFormat)},
					"Last-Modified": []string{time.Now().Add(-1 * time.Hour).Format(http.TimeFormat)},
					"Etag":          []string{`"abc123"`},
					"Content-Type":  []string{"application/json"},
				},
				Body: io.NopCloser(bytes.NewReader([]byte(`{"code":200}`))),
			},
		},
		{
			name: "response without expires header",
			resp: &http.Response{
				StatusCode: 200,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       io.NopCloser(bytes.NewReader([]byte(`{"code":200}`))),
			},
		},
		{
			name:    "nil response",
			resp:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := ResponseToEntry(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResponseToEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			body, _ := io.ReadAll(tt.resp.Body)
			if string(body) != `{"code":200}` {
				t.Errorf("Response body was not restored, got %q", body)
			}
			if string(entry.Data) != `{"code":200}` {
				t.Errorf("Data = %q", entry.Data)
			}
			if entry.ETag != tt.resp.Header.Get("ETag") {
				t.Errorf("ETag = %q, want %q", entry.ETag, tt.resp.Header.Get("ETag"))
			}
			if entry.TTL() <= 0 {
				t.Error("Expected positive TTL")
			}
		})
	}
}

func TestParseExpires(t *testing.T) {
	future := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)

	tests := []struct {
		name    string
		header  string
		wantMin time.Duration
		wantMax time.Duration
	}{
		{name: "missing", header: "", wantMin: DefaultRetention - time.Minute, wantMax: DefaultRetention + time.Minute},
		{name: "invalid", header: "not a date", wantMin: DefaultRetention - time.Minute, wantMax: DefaultRetention + time.Minute},
		{name: "past", header: time.Now().Add(-time.Hour).Format(http.TimeFormat), wantMin: DefaultRetention - time.Minute, wantMax: DefaultRetention + time.Minute},
		{name: "future", header: future.Format(http.TimeFormat), wantMin: 28 * time.Minute, wantMax: 31 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Expires", tt.header)
			}
			got := time.Until(parseExpires(h))
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("parseExpires() in %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestEntryToResponse(t *testing.T) {
	entry := &Entry{
		Data:       []byte(`{"code":200,"data":{}}`),
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}

	resp := EntryToResponse(entry)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(entry.Data) {
		t.Errorf("Body = %q, want %q", body, entry.Data)
	}
}

func TestConditionalHeaders(t *testing.T) {
	lastMod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		entry      *Entry
		wantCond   bool
		wantHeader string
		wantValue  string
	}{
		{name: "nil entry", entry: nil, wantCond: false},
		{name: "no validators", entry: &Entry{}, wantCond: false},
		{name: "etag", entry: &Entry{ETag: `"v1"`}, wantCond: true, wantHeader: "If-None-Match", wantValue: `"v1"`},
		{
			name:       "last modified",
			entry:      &Entry{LastModified: lastMod},
			wantCond:   true,
			wantHeader: "If-Modified-Since",
			wantValue:  lastMod.Format(http.TimeFormat),
		},
		{
			name:       "etag preferred",
			entry:      &Entry{ETag: `"v2"`, LastModified: lastMod},
			wantCond:   true,
			wantHeader: "If-None-Match",
			wantValue:  `"v2"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldMakeConditionalRequest(tt.entry); got != tt.wantCond {
				t.Errorf("ShouldMakeConditionalRequest() = %v, want %v", got, tt.wantCond)
			}

			req, _ := http.NewRequest("GET", "http://oba.example/api/where/agencies-with-coverage.json", nil)
			AddConditionalHeaders(req, tt.entry)
			if tt.wantHeader != "" && req.Header.Get(tt.wantHeader) != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantHeader, req.Header.Get(tt.wantHeader), tt.wantValue)
			}
			if tt.wantHeader == "" && (req.Header.Get("If-None-Match") != "" || req.Header.Get("If-Modified-Since") != "") {
				t.Error("Unexpected conditional header")
			}
		})
	}
}
