package registry

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

const (
	MethodGoBack    = "Page.goBack"
	MethodGoForward = "Page.goForward"
)

// Default returns a registry holding every supported command.
func Default() *Registry {
	r := New()
	r.mustRegister(
		// Page
		command[page.NavigateParams, page.NavigateReturns](
			page.CommandNavigate, "Navigate to a URL",
			schema(
				req(str("url")),
				opt(str("referrer"), str("transitionType"), str("frameId"), str("referrerPolicy")),
			),
			`{"url": "https://example.com"}`, nil),
		command[page.ReloadParams, noResult](
			page.CommandReload, "Reload the current page",
			schema(nil, opt(boolean("ignoreCache"), str("scriptToEvaluateOnLoad"), str("loaderId"))),
			`{"ignoreCache": true}`, nil),
		historyEntry(MethodGoBack, "Go back one history entry", -1),
		historyEntry(MethodGoForward, "Go forward one history entry", 1),
		command[page.CaptureScreenshotParams, page.CaptureScreenshotReturns](
			page.CommandCaptureScreenshot, "Capture a screenshot (save_as writes the image)",
			schema(nil, opt(
				str("format"), num("quality"), obj("clip"),
				boolean("fromSurface"), boolean("captureBeyondViewport"), boolean("optimizeForSpeed"),
			)),
			`{"format": "png", "captureBeyondViewport": true}`, screenshotOutput),

		// Runtime
		command[runtime.EvaluateParams, runtime.EvaluateReturns](
			runtime.CommandEvaluate, "Evaluate JavaScript (save_as writes the result as JSON)",
			schema(
				req(str("expression")),
				opt(
					str("objectGroup"), boolean("includeCommandLineAPI"), boolean("silent"),
					num("contextId"), boolean("returnByValue"), boolean("generatePreview"),
					boolean("userGesture"), boolean("awaitPromise"), num("timeout"),
				),
			),
			`{"expression": "document.title", "returnByValue": true}`, evaluateOutput),

		// Input
		command[input.InsertTextParams, noResult](
			input.CommandInsertText, "Insert text into the focused element",
			schema(req(str("text")), nil),
			`{"text": "hello world"}`, nil),
		command[input.DispatchMouseEventParams, noResult](
			input.CommandDispatchMouseEvent, "Dispatch a mouse event",
			schema(
				req(str("type"), num("x"), num("y")),
				opt(
					num("modifiers"), str("button"), num("buttons"), num("clickCount"),
					num("deltaX"), num("deltaY"), str("pointerType"),
				),
			),
			`{"type": "mousePressed", "x": 100, "y": 200, "button": "left", "clickCount": 1}`, nil),
		command[input.DispatchKeyEventParams, noResult](
			input.CommandDispatchKeyEvent, "Dispatch a key event",
			schema(
				req(str("type")),
				opt(
					num("modifiers"), str("text"), str("unmodifiedText"), str("keyIdentifier"),
					str("code"), str("key"), num("windowsVirtualKeyCode"), num("nativeVirtualKeyCode"),
					boolean("autoRepeat"), boolean("isKeypad"), boolean("isSystemKey"), num("location"),
				),
			),
			`{"type": "keyDown", "key": "Enter"}`, nil),

		// Network
		command[network.GetCookiesParams, network.GetCookiesReturns](
			network.CommandGetCookies, "Read cookies (save_as writes them as JSON)",
			schema(nil, opt(arr("urls"))),
			`{}`, cookiesOutput),
		command[network.SetCookieParams, noResult](
			network.CommandSetCookie, "Set a cookie",
			schema(
				req(str("name"), str("value")),
				opt(
					str("url"), str("domain"), str("path"), boolean("secure"),
					boolean("httpOnly"), str("sameSite"), num("expires"),
				),
			),
			`{"name": "session", "value": "abc123", "domain": "example.com"}`, nil),
		command[network.DeleteCookiesParams, noResult](
			network.CommandDeleteCookies, "Delete cookies by name",
			schema(req(str("name")), opt(str("url"), str("domain"), str("path"))),
			`{"name": "session"}`, nil),

		// Emulation
		command[emulation.SetGeolocationOverrideParams, noResult](
			emulation.CommandSetGeolocationOverride, "Override the geolocation",
			schema(nil, opt(num("latitude"), num("longitude"), num("accuracy"))),
			`{"latitude": 37.7749, "longitude": -122.4194, "accuracy": 100}`, nil),
		command[emulation.ClearGeolocationOverrideParams, noResult](
			emulation.CommandClearGeolocationOverride, "Clear the geolocation override",
			schema(nil, nil),
			`{}`, nil),
		command[emulation.SetDeviceMetricsOverrideParams, noResult](
			emulation.CommandSetDeviceMetricsOverride, "Emulate device metrics",
			schema(
				req(num("width"), num("height"), num("deviceScaleFactor"), boolean("mobile")),
				opt(
					num("scale"), num("screenWidth"), num("screenHeight"),
					num("positionX"), num("positionY"), obj("screenOrientation"),
				),
			),
			`{"width": 375, "height": 667, "deviceScaleFactor": 2, "mobile": true}`, nil),
	)
	return r
}

func screenshotOutput(res *page.CaptureScreenshotReturns) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot base64 data: %w", err)
	}
	return data, nil
}

func evaluateOutput(res *runtime.EvaluateReturns) ([]byte, error) {
	return json.Marshal(res.Result, jsontext.WithIndent("  "))
}

func cookiesOutput(res *network.GetCookiesReturns) ([]byte, error) {
	return json.Marshal(res.Cookies, jsontext.WithIndent("  "))
}

// historyEntry builds Page.goBack / Page.goForward. CDP has no such
// methods; they read the navigation history and jump one entry.
func historyEntry(method, summary string, delta int) Entry {
	return Entry{
		Method:  method,
		Summary: summary,
		Schema:  schema(nil, nil),
		Example: `{}`,
		bind: func(jsontext.Value) (Call, error) {
			return &historyCall{method: method, delta: delta}, nil
		},
	}
}

type historyCall struct {
	method string
	delta  int
}

// HistoryResult is the response of Page.goBack and Page.goForward.
type HistoryResult struct {
	Navigated string `json:"navigated"`
	EntryID   int64  `json:"entryId,omitzero"`
	URL       string `json:"url,omitempty"`
	NoHistory bool   `json:"noHistory,omitzero"`
}

func (c *historyCall) Method() string { return c.method }

func (c *historyCall) Do(ctx context.Context, session cdp.Executor) (*Outcome, error) {
	direction := "back"
	if c.delta > 0 {
		direction = "forward"
	}

	var history page.GetNavigationHistoryReturns
	if err := session.Execute(ctx, page.CommandGetNavigationHistory, &page.GetNavigationHistoryParams{}, &history); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	idx := int(history.CurrentIndex) + c.delta
	if idx < 0 || idx >= len(history.Entries) || history.Entries[idx] == nil {
		return &Outcome{Response: &HistoryResult{Navigated: direction, NoHistory: true}}, nil
	}

	target := history.Entries[idx]
	params := &page.NavigateToHistoryEntryParams{EntryID: target.ID}
	if err := session.Execute(ctx, page.CommandNavigateToHistoryEntry, params, &noResult{}); err != nil {
		return nil, err
	}
	return &Outcome{Response: &HistoryResult{Navigated: direction, EntryID: target.ID, URL: target.URL}}, nil
}
