package live

import (
	"errors"
	"strings"
	"testing"
)

type stubNavigator struct {
	urls []string
	err  error
}

func (n *stubNavigator) Open(url string) error {
	n.urls = append(n.urls, url)
	return n.err
}

func TestDispatch_NavigateToPage(t *testing.T) {
	nav := &stubNavigator{}
	d := NewToolDispatcher(nav, "https://farmdepot.ng", nil)

	result := d.Dispatch(ToolNavigateToPage, map[string]any{"page": "Products"})

	if !strings.Contains(result, "Products") {
		t.Errorf("result %q does not mention the page", result)
	}
	if len(nav.urls) != 1 {
		t.Fatalf("navigation fired %d times, want exactly 1", len(nav.urls))
	}
	if nav.urls[0] != "https://farmdepot.ng/products" {
		t.Errorf("url = %q", nav.urls[0])
	}
}

func TestDispatch_NavigateStripsSlashes(t *testing.T) {
	nav := &stubNavigator{}
	d := NewToolDispatcher(nav, "https://farmdepot.ng/", nil)

	d.Dispatch(ToolNavigateToPage, map[string]any{"page": "My/Account"})

	if nav.urls[0] != "https://farmdepot.ng/myaccount" {
		t.Errorf("url = %q", nav.urls[0])
	}
}

func TestDispatch_SearchMarketplace(t *testing.T) {
	nav := &stubNavigator{}
	d := NewToolDispatcher(nav, "https://farmdepot.ng", nil)

	result := d.Dispatch(ToolSearchMarketplace, map[string]any{"query": "dried maize ~50kg"})

	if !strings.Contains(result, "dried maize ~50kg") {
		t.Errorf("result %q does not mention the query", result)
	}
	// url.QueryEscape leaves ~ alone (RFC 3986 unreserved).
	want := "https://farmdepot.ng/?s=dried+maize+~50kg&post_type=product"
	if nav.urls[0] != want {
		t.Errorf("url = %q, want %q", nav.urls[0], want)
	}
}

func TestDispatch_Subscribe(t *testing.T) {
	nav := &stubNavigator{}
	d := NewToolDispatcher(nav, "https://farmdepot.ng", nil)

	result := d.Dispatch(ToolSubscribeToFarmDepot, map[string]any{"email": "ada@example.com"})

	if !strings.Contains(result, "ada@example.com") {
		t.Errorf("result %q does not mention the email", result)
	}
	if len(nav.urls) != 0 {
		t.Errorf("subscribe must not navigate, fired %d times", len(nav.urls))
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := NewToolDispatcher(nil, "https://farmdepot.ng", nil)

	if result := d.Dispatch("charter_a_lorry", map[string]any{}); result != "Done." {
		t.Errorf("unknown tool result = %q, want %q", result, "Done.")
	}
}

func TestDispatch_MissingArgument(t *testing.T) {
	nav := &stubNavigator{}
	d := NewToolDispatcher(nav, "https://farmdepot.ng", nil)

	result := d.Dispatch(ToolNavigateToPage, map[string]any{})

	if result == "" {
		t.Fatal("missing argument produced empty result")
	}
	if len(nav.urls) != 0 {
		t.Error("navigation fired without a page argument")
	}
}

func TestDispatch_PanicYieldsResult(t *testing.T) {
	panicNav := NavigatorFunc(func(string) error { panic("device detached") })
	d := NewToolDispatcher(panicNav, "https://farmdepot.ng", nil)

	result := d.Dispatch(ToolNavigateToPage, map[string]any{"page": "products"})

	if result != faultResult {
		t.Errorf("panic result = %q, want apology", result)
	}
}

func TestDispatch_NavigationErrorStillAnswers(t *testing.T) {
	nav := &stubNavigator{err: errors.New("no browser")}
	d := NewToolDispatcher(nav, "https://farmdepot.ng", nil)

	result := d.Dispatch(ToolSearchMarketplace, map[string]any{"query": "yam"})

	if !strings.Contains(result, "yam") {
		t.Errorf("result %q lost on navigation error", result)
	}
}
