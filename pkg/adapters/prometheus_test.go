package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPrometheusAdapter_DailySeries(t *testing.T) {
	// Three daily points, delivered out of order
	body := `{
        "status":"success",
        "data":{
            "resultType":"matrix",
            "result":[
                {
                    "metric":{},
                    "values":[
                        [ 1700179200, "120" ],
                        [ 1700006400, "100" ],
                        [ 1700092800, "110" ]
                    ]
                }
            ]
        }
    }`
	var gotPath, gotStep string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStep = r.URL.Query().Get("step")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	ad := &PrometheusAdapter{
		ServerURL: server.URL,
		Query:     "sum(increase(orders_total[1d]))",
	}

	df, err := ad.Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if gotPath != "/api/v1/query_range" {
		t.Errorf("path = %q, want /api/v1/query_range", gotPath)
	}
	if gotStep != "86400" {
		t.Errorf("step = %q, want 86400", gotStep)
	}
	if len(df.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(df.Rows))
	}

	prev := time.Time{}
	for i, row := range df.Rows {
		tsStr, ok := row["ts"].(string)
		if !ok {
			t.Fatalf("row %d ts not string", i)
		}
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			t.Fatalf("row %d ts parse: %v", i, err)
		}
		if !prev.IsZero() && !ts.After(prev) {
			t.Fatalf("timestamps not sorted")
		}
		prev = ts
	}
	if df.Rows[0]["value"].(float64) != 100 {
		t.Errorf("first value = %v, want 100", df.Rows[0]["value"])
	}
}

func TestPrometheusAdapter_MultiSeriesAggregates(t *testing.T) {
	body := `{
        "status":"success",
        "data":{
            "resultType":"matrix",
            "result":[
                { "metric":{"store":"a"}, "values":[ [ 1700006400, "1" ], [ 1700092800, "2" ] ] },
                { "metric":{"store":"b"}, "values":[ [ 1700006400, "10" ], [ 1700092800, "20" ] ] }
            ]
        }
    }`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	ad := &PrometheusAdapter{ServerURL: server.URL, Query: "q"}
	df, err := ad.Collect(context.Background(), 2*86400)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(df.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(df.Rows))
	}
	if df.Rows[0]["value"].(float64) != 11 {
		t.Errorf("row0 value = %v, want 11", df.Rows[0]["value"])
	}
	if df.Rows[1]["value"].(float64) != 22 {
		t.Errorf("row1 value = %v, want 22", df.Rows[1]["value"])
	}
}

func TestPrometheusAdapter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusServiceUnavailable, ""},
		{"status error", http.StatusOK, `{"status":"error","data":{}}`},
		{"bad json", http.StatusOK, `{`},
		{"bad value", http.StatusOK, `{"status":"success","data":{"result":[{"values":[[1700006400,"x"]]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			ad := &PrometheusAdapter{ServerURL: server.URL, Query: "q"}
			if _, err := ad.Collect(context.Background(), 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPrometheusAdapter_ValidatesConfig(t *testing.T) {
	ad := &PrometheusAdapter{}
	if _, err := ad.Collect(context.Background(), 60); err == nil {
		t.Fatalf("expected error for missing config")
	}
}
