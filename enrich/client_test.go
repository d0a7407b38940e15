package enrich

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/kobo-stats/config"
)

const testBaseURL = "https://openlibrary.test"

func newTestClient(t *testing.T, cfg *config.Config) (*Client, *httpmock.MockTransport) {
	t.Helper()

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.OpenLibraryURL = testBaseURL
	cfg.RequestsPerSecond = 1000
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond

	client, err := NewClient(cfg, NewMetrics())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport := httpmock.NewMockTransport()
	client.collector.WithTransport(transport)
	return client, transport
}

func jsonResponder(status int, body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return httpmock.ResponderFromResponse(resp)
}

func TestSearchISBNFromSearchDocs(t *testing.T) {
	client, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/search.json", jsonResponder(200,
		`{"numFound":2,"docs":[{"key":"/works/OL1W","isbn":["0306406152","978-0-306-40615-7"]}]}`))

	isbn, err := client.SearchISBN(context.Background(), "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if isbn != "9780306406157" {
		t.Fatalf("isbn = %q, want 9780306406157", isbn)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSearchISBNFallsBackToEditions(t *testing.T) {
	client, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/search.json", jsonResponder(200,
		`{"numFound":1,"docs":[{"key":"/works/OL1W","isbn":["0306406152"],"edition_key":["OL2M","OL3M"],"cover_edition_key":"OL3M"}]}`))
	transport.RegisterResponder("GET", testBaseURL+"/books/OL3M.json", jsonResponder(200,
		`{"key":"/books/OL3M","isbn_13":["9780306406157"]}`))
	transport.RegisterResponder("GET", testBaseURL+"/books/OL2M.json", jsonResponder(200,
		`{"key":"/books/OL2M","isbn_13":[]}`))

	isbn, err := client.SearchISBN(context.Background(), "Dune", "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if isbn != "9780306406157" {
		t.Fatalf("isbn = %q, want 9780306406157", isbn)
	}

	info := transport.GetCallCountInfo()
	if got := info["GET "+testBaseURL+"/books/OL2M.json"]; got != 0 {
		t.Fatalf("cover edition should be tried first, OL2M calls = %d", got)
	}
}

func TestSearchISBNNoMatch(t *testing.T) {
	client, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/search.json", jsonResponder(200, `{"numFound":0,"docs":[]}`))

	isbn, err := client.SearchISBN(context.Background(), "Unknown", "Nobody")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if isbn != "" {
		t.Fatalf("isbn = %q, want empty", isbn)
	}
}

func TestSearchISBNRespectsEditionLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxEditionLookups = 1
	client, transport := newTestClient(t, cfg)
	transport.RegisterResponder("GET", testBaseURL+"/search.json", jsonResponder(200,
		`{"docs":[{"key":"/works/OL1W","edition_key":["OL2M","OL3M"]}]}`))
	transport.RegisterResponder("GET", testBaseURL+"/books/OL2M.json", jsonResponder(200, `{"isbn_13":[]}`))
	transport.RegisterResponder("GET", testBaseURL+"/books/OL3M.json", jsonResponder(200, `{"isbn_13":["9780306406157"]}`))

	isbn, err := client.SearchISBN(context.Background(), "Dune", "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if isbn != "" {
		t.Fatalf("isbn = %q, want empty after one edition lookup", isbn)
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestEditionISBNIsMemoized(t *testing.T) {
	client, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/books/OL3M.json", jsonResponder(200, `{"isbn_13":["9780306406157"]}`))

	for i := 0; i < 3; i++ {
		isbn, err := client.EditionISBN(context.Background(), "/books/OL3M")
		if err != nil {
			t.Fatalf("edition: %v", err)
		}
		if isbn != "9780306406157" {
			t.Fatalf("isbn = %q", isbn)
		}
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestClientHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
		calls    int
	}{
		{status: http.StatusNotFound, expected: "not_found", calls: 1},
		{status: http.StatusForbidden, expected: "forbidden", calls: 1},
		{status: http.StatusTooManyRequests, expected: "rate_limited", calls: 3},
		{status: http.StatusServiceUnavailable, expected: "server", calls: 3},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.MaxRetries = 2
			client, transport := newTestClient(t, cfg)
			transport.RegisterResponder("GET", testBaseURL+"/search.json", jsonResponder(tt.status, ""))

			_, err := client.SearchISBN(context.Background(), "Dune", "")
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err=%v)", got, tt.expected, err)
			}
			if got := transport.GetTotalCallCount(); got != tt.calls {
				t.Fatalf("calls = %d, want %d", got, tt.calls)
			}
		})
	}
}

func TestClientBadResponse(t *testing.T) {
	client, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/search.json", jsonResponder(200, "<html>nope</html>"))

	_, err := client.SearchISBN(context.Background(), "Dune", "")
	var bad ErrBadResponse
	if !errors.As(err, &bad) {
		t.Fatalf("err = %v, want ErrBadResponse", err)
	}
}

func TestClientCancelledContext(t *testing.T) {
	client, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/search.json", jsonResponder(200, `{"docs":[]}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.SearchISBN(ctx, "Dune", ""); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestNewClientRejectsHostlessURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OpenLibraryURL = "/relative"
	if _, err := NewClient(cfg, nil); err == nil {
		t.Fatalf("expected error for url without host")
	}
}

func TestClientBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	client, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if got := client.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("backoff(1) = %v, want 200ms", got)
	}
	if got := client.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("backoff(2) = %v, want 400ms", got)
	}
	if got := client.backoff(4); got != cfg.RetryBackoffMax {
		t.Fatalf("backoff(4) = %v, want %v", got, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: nil, statusCode: http.StatusBadGateway, expected: "server"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestNormalizeISBN13(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "9780306406157", want: "9780306406157"},
		{in: "978-0-306-40615-7", want: "9780306406157"},
		{in: "978 0 306 40615 7", want: "9780306406157"},
		{in: "9780306406158", want: ""},
		{in: "0306406152", want: ""},
		{in: "97803064061X7", want: ""},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := NormalizeISBN13(tt.in); got != tt.want {
			t.Errorf("NormalizeISBN13(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
