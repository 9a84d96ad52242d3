package live

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/farmdepot-ng/voicelink/pkg/channel"
)

// Tool names the agent may request. Unknown names are answered with a
// generic acknowledgement instead of failing the call.
const (
	ToolNavigateToPage       = "navigate_to_page"
	ToolSearchMarketplace    = "search_marketplace"
	ToolSubscribeToFarmDepot = "subscribe_to_farmdepot"
)

// faultResult is returned when a tool action fails internally. The agent gets
// a user-facing answer either way; an unanswered call would stall its turn.
const faultResult = "Ah, my customer! Small wahala on my side, abeg try that one again."

// Navigator performs the navigation side effect of a tool call, typically by
// opening a browser tab or signalling the embedding UI.
type Navigator interface {
	Open(url string) error
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(url string) error

func (f NavigatorFunc) Open(url string) error { return f(url) }

// MarketplaceTools is the fixed tool surface of the assistant.
func MarketplaceTools() []channel.ToolDeclaration {
	return []channel.ToolDeclaration{
		{Name: ToolNavigateToPage, Required: []string{"page"}},
		{Name: ToolSearchMarketplace, Required: []string{"query"}},
		{Name: ToolSubscribeToFarmDepot, Required: []string{"email"}},
	}
}

// ToolDispatcher executes agent-requested actions and produces the textual
// result for each call. Dispatch never fails: internal faults are converted
// to an apology result so that every call is answered exactly once.
type ToolDispatcher struct {
	nav        Navigator
	websiteURL string
	logger     *slog.Logger
}

// NewToolDispatcher creates a dispatcher targeting websiteURL. A nil
// navigator disables side effects but still produces results.
func NewToolDispatcher(nav Navigator, websiteURL string, logger *slog.Logger) *ToolDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolDispatcher{
		nav:        nav,
		websiteURL: strings.TrimRight(websiteURL, "/"),
		logger:     logger,
	}
}

// Dispatch runs one tool call and returns its result text.
func (d *ToolDispatcher) Dispatch(name string, args map[string]any) (result string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool dispatch fault", "tool", name, "panic", r)
			result = faultResult
		}
	}()

	switch name {
	case ToolNavigateToPage:
		page, ok := stringArg(args, "page")
		if !ok {
			return faultResult
		}
		target := d.websiteURL + "/" + strings.ToLower(strings.ReplaceAll(page, "/", ""))
		d.open(target)
		return fmt.Sprintf("Navigating to %s now, my customer!", page)

	case ToolSearchMarketplace:
		query, ok := stringArg(args, "query")
		if !ok {
			return faultResult
		}
		target := d.websiteURL + "/?s=" + url.QueryEscape(query) + "&post_type=product"
		d.open(target)
		return fmt.Sprintf("Searching for the best %s deals for you!", query)

	case ToolSubscribeToFarmDepot:
		email, ok := stringArg(args, "email")
		if !ok {
			return faultResult
		}
		return fmt.Sprintf("Correct choice! Successfully signed %s up for the best agro-updates.", email)
	}

	d.logger.Warn("unknown tool requested", "tool", name)
	return "Done."
}

func (d *ToolDispatcher) open(target string) {
	if d.nav == nil {
		return
	}
	if err := d.nav.Open(target); err != nil {
		// The spoken result already promised the action; log and move on.
		d.logger.Error("navigation failed", "url", target, "error", err)
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
