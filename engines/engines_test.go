package engines

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/relais/transport"
)

type fakeTransport struct {
	fn    func(req transport.Request) (*transport.Response, error)
	calls []transport.Request
}

func (f *fakeTransport) Perform(_ context.Context, req transport.Request) (*transport.Response, error) {
	f.calls = append(f.calls, req)
	return f.fn(req)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearXMirrorRotation(t *testing.T) {
	ft := &fakeTransport{fn: func(req transport.Request) (*transport.Response, error) {
		if strings.HasPrefix(req.URL, "https://a.example") {
			return nil, errors.New("mirror down")
		}
		return &transport.Response{
			StatusCode: 200,
			Body: []byte(`{"results":[
				{"title":"<b>First</b>","url":"https://one.example","content":"first hit"},
				{"title":"Second","url":"https://two.example","content":"second hit"}
			]}`),
		}, nil
	}}
	s := NewSearX(ft, SearXConfig{
		Instances: []string{"https://a.example", "https://b.example"},
		Logger:    quietLogger(),
	})

	results, err := s.Search(context.Background(), "query", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Title != "First" {
		t.Fatalf("markup not stripped: %q", results[0].Title)
	}
	if results[0].Source != "searx" {
		t.Fatalf("source = %q", results[0].Source)
	}
	if len(ft.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (failed mirror then working one)", len(ft.calls))
	}
	if ft.calls[0].Proxy != transport.ProxySOCKS {
		t.Fatal("searx must go through the proxy")
	}

	// Cursor stays on the working mirror for the next call.
	if _, err := s.Search(context.Background(), "again", 10); err != nil {
		t.Fatal(err)
	}
	if got := ft.calls[len(ft.calls)-1].URL; !strings.HasPrefix(got, "https://b.example") {
		t.Fatalf("cursor did not persist, next call hit %s", got)
	}
}

func TestSearXAllMirrorsFail(t *testing.T) {
	ft := &fakeTransport{fn: func(transport.Request) (*transport.Response, error) {
		return nil, errors.New("down")
	}}
	s := NewSearX(ft, SearXConfig{
		Instances: []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example"},
		Logger:    quietLogger(),
	})

	if _, err := s.Search(context.Background(), "query", 10); err == nil {
		t.Fatal("expected error")
	}
	// Mirror retry is capped, not exhaustive.
	if len(ft.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(ft.calls))
	}

	// The cursor moved past the last failed mirror too, so a second call
	// starts on the fourth mirror instead of retrying the third.
	s.Search(context.Background(), "again", 10)
	if got := ft.calls[3].URL; !strings.HasPrefix(got, "https://d.example") {
		t.Fatalf("cursor not advanced past final failure, next call hit %s", got)
	}
}

func TestSearXCapsResults(t *testing.T) {
	ft := &fakeTransport{fn: func(transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []byte(`{"results":[
			{"title":"a","url":"u1","content":"c"},
			{"title":"b","url":"u2","content":"c"},
			{"title":"c","url":"u3","content":"c"}
		]}`)}, nil
	}}
	s := NewSearX(ft, SearXConfig{Logger: quietLogger()})

	results, err := s.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
}

const ddgPage = `<html><body>
<div class="result">
  <a class="result__a" href="/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&amp;rut=x">Example <b>Page</b></a>
  <a class="result__snippet" href="/l/?uddg=https%3A%2F%2Fexample.com%2Fpage">A snippet about the page.</a>
</div>
<div class="result">
  <a class="result__a" href="https://plain.example/doc">Plain Doc</a>
  <a class="result__snippet" href="https://plain.example/doc">Second snippet.</a>
</div>
</body></html>`

func TestDuckDuckGoParsesResults(t *testing.T) {
	ft := &fakeTransport{fn: func(transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []byte(ddgPage)}, nil
	}}
	d := NewDuckDuckGo(ft, DuckDuckGoConfig{Logger: quietLogger()})

	results, err := d.Search(context.Background(), "example", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].URL != "https://example.com/page" {
		t.Fatalf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Example Page" {
		t.Fatalf("title = %q", results[0].Title)
	}
	if results[0].Snippet != "A snippet about the page." {
		t.Fatalf("snippet = %q", results[0].Snippet)
	}
	if results[0].Source != "duckduckgo" {
		t.Fatalf("source = %q", results[0].Source)
	}
	if ft.calls[0].Proxy != transport.ProxySOCKS {
		t.Fatal("first attempt must be proxied")
	}
}

func TestDuckDuckGoDirectFallbackRetags(t *testing.T) {
	ft := &fakeTransport{fn: func(req transport.Request) (*transport.Response, error) {
		if req.Proxy == transport.ProxySOCKS {
			return nil, errors.New("proxy down")
		}
		return &transport.Response{StatusCode: 200, Body: []byte(ddgPage)}, nil
	}}
	d := NewDuckDuckGo(ft, DuckDuckGoConfig{Logger: quietLogger()})

	results, err := d.Search(context.Background(), "example", 10)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Source != "duckduckgo-direct" {
		t.Fatalf("direct path must be tagged, got %q", results[0].Source)
	}
	if len(ft.calls) != 2 || ft.calls[1].Proxy != transport.ProxyNone {
		t.Fatalf("expected proxied then direct, got %+v", ft.calls)
	}
}

func TestAhmiaSearch(t *testing.T) {
	ft := &fakeTransport{fn: func(transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []byte(`{"results":[
			{"title":"Hidden Service","url":"http://abc.onion","description":"an index hit"}
		]}`)}, nil
	}}
	a := NewAhmia(ft, AhmiaConfig{Logger: quietLogger()})

	results, err := a.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Source != "ahmia" {
		t.Fatalf("results = %+v", results)
	}
	if ft.calls[0].Proxy != transport.ProxySOCKS {
		t.Fatal("ahmia must always be proxied")
	}
}

func TestBraveRequiresKey(t *testing.T) {
	ft := &fakeTransport{fn: func(transport.Request) (*transport.Response, error) {
		t.Fatal("transport must not be called without a key")
		return nil, nil
	}}
	b := NewBrave(ft, BraveConfig{})

	if b.Available() {
		t.Fatal("brave without key should be unavailable")
	}
	if _, err := b.Search(context.Background(), "query", 5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestBraveSearch(t *testing.T) {
	ft := &fakeTransport{fn: func(req transport.Request) (*transport.Response, error) {
		if req.Header.Get("X-Subscription-Token") != "key123" {
			return &transport.Response{StatusCode: 401}, nil
		}
		return &transport.Response{StatusCode: 200, Body: []byte(`{"web":{"results":[
			{"title":"Hit","url":"https://example.com","description":"desc"}
		]}}`)}, nil
	}}
	b := NewBrave(ft, BraveConfig{APIKey: "key123"})

	results, err := b.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Source != "brave" {
		t.Fatalf("results = %+v", results)
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator(quietLogger())

	good := []Result{
		{Title: "Go concurrency patterns", URL: "https://example.com/1", Snippet: "Channels and goroutines explained with worked examples."},
		{Title: "Effective Go", URL: "https://example.com/2", Snippet: "Tips for writing clear, idiomatic Go code in practice."},
		{Title: "The Go memory model", URL: "https://example.com/3", Snippet: "The conditions under which reads observe writes."},
	}

	if v.Validate(nil, "golang concurrency") {
		t.Fatal("empty results must fail")
	}
	if !v.Validate(good, "golang concurrency tutorial") {
		t.Fatal("well-formed matching results must pass")
	}

	missing := append([]Result{}, good...)
	missing[1].Snippet = ""
	if v.Validate(missing, "golang") {
		t.Fatal("missing field in leading results must fail")
	}

	// Short sample: detection skipped entirely.
	short := []Result{{Title: "a", URL: "u", Snippet: "b"}}
	if !v.Validate(short, "query") {
		t.Fatal("short sample must not be language-checked")
	}

	// English query against a reliably-Russian result set.
	russian := []Result{
		{Title: "Параллелизм в программировании", URL: "https://example.ru/1", Snippet: "Горутины и каналы объясняются на практических примерах работы."},
		{Title: "Эффективное программирование", URL: "https://example.ru/2", Snippet: "Советы по написанию понятного и идиоматичного кода на практике."},
		{Title: "Модель памяти языка", URL: "https://example.ru/3", Snippet: "Условия, при которых операции чтения видят результаты записи."},
	}
	if v.Validate(russian, "how to write concurrent programs with goroutines and channels") {
		t.Fatal("reliable language mismatch must fail")
	}
}
