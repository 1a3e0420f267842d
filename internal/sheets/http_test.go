package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadReturnsRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("expected bearer token header, got %q", got)
		}
		if !strings.Contains(r.URL.Path, "doc-1/values/") {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		io.WriteString(w, `{"values":[["1","Dana"],["2","Omer"]]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "doc-1", StaticTokenSource("test-token"))
	rows, err := client.Read(context.Background(), "Users", "A2:J")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 || rows[0][1] != "Dana" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestAppendPostsRow(t *testing.T) {
	var gotBody map[string][][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, ":append") {
			t.Fatalf("expected append verb in path, got %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "doc-1", StaticTokenSource(""))
	if err := client.Append(context.Background(), "Users", []string{"1", "Dana"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(gotBody["values"]) != 1 || gotBody["values"][0][1] != "Dana" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestBatchUpdateSingleCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.HasSuffix(r.URL.Path, "values:batchUpdate") {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var body struct {
			Data []struct {
				Range string `json:"range"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Data) != 2 {
			t.Fatalf("expected 2 ranged writes, got %d", len(body.Data))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "doc-1", StaticTokenSource(""))
	err := client.BatchUpdate(context.Background(), "Positions", []CellUpdate{
		{Range: "D2:E2", Values: []string{"", ""}},
		{Range: "D3:E3", Values: []string{"", ""}},
	})
	if err != nil {
		t.Fatalf("batch update: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single remote call, got %d", calls)
	}
}

func TestRemoteErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "doc-1", StaticTokenSource(""))
	_, err := client.Read(context.Background(), "Users", "A2:J")
	if err == nil {
		t.Fatal("expected error")
	}

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %T", err)
	}
	if !remote.Transient() {
		t.Fatal("expected 429 to be transient")
	}

	permanent := &RemoteError{Op: "read", StatusCode: http.StatusBadRequest}
	if permanent.Transient() {
		t.Fatal("expected 400 to be permanent")
	}
	network := &RemoteError{Op: "read", Cause: errors.New("connection refused")}
	if !network.Transient() {
		t.Fatal("expected transport failure to be transient")
	}
}
