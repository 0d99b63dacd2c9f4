// internal/browser/browser.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json"
)

// ErrNotConnected is returned by Execute before Connect has succeeded.
var ErrNotConnected = errors.New("browser not connected")

const DefaultDebugURL = "http://localhost:9222"

// Options configures how the browser is reached.
type Options struct {
	// DebugURL is Chrome's remote debugging endpoint. An http(s) URL is
	// resolved through /json/version; a ws(s) URL is dialed directly.
	DebugURL string

	// Launch starts a local Chrome instead of attaching to DebugURL.
	Launch   bool
	Headless bool
	ExecPath string

	// ConnectTimeout bounds endpoint discovery. Default 5s.
	ConnectTimeout time.Duration

	Logger     *log.Logger
	HTTPClient *http.Client
}

// Browser is a lazily connected CDP session. It implements cdp.Executor
// and serializes commands, so one Browser drives one page at a time.
type Browser struct {
	opts   Options
	client *http.Client
	logger *log.Logger

	mu        sync.Mutex
	allocCtx  context.Context
	allocCanc context.CancelFunc
	ctx       context.Context
	ctxCanc   context.CancelFunc
	target    target.ID
}

var _ cdp.Executor = (*Browser)(nil)

// New returns an unconnected Browser.
func New(opts Options) *Browser {
	if opts.DebugURL == "" {
		opts.DebugURL = DefaultDebugURL
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.ConnectTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Browser{opts: opts, client: client, logger: logger}
}

// Connect attaches to (or launches) Chrome. An existing connection is
// reused if it still answers; a stale one is dropped and re-established.
func (b *Browser) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		err := chromedp.Run(b.ctx)
		if err == nil {
			return nil
		}
		b.logger.Printf("[browser] existing connection stale: %v, reconnecting", err)
		b.close()
	}

	if b.opts.Launch {
		return b.launch()
	}
	return b.attach(ctx)
}

func (b *Browser) attach(ctx context.Context) error {
	wsURL, targetID, err := b.discover(ctx)
	if err != nil {
		return err
	}

	allocCtx, allocCanc := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	b.allocCtx = allocCtx
	b.allocCanc = allocCanc

	var opts []chromedp.ContextOption
	if targetID != "" {
		opts = append(opts, chromedp.WithTargetID(targetID))
	}
	b.ctx, b.ctxCanc = chromedp.NewContext(allocCtx, opts...)

	if err := chromedp.Run(b.ctx); err != nil {
		b.close()
		return fmt.Errorf("failed to attach to page: %w", err)
	}
	b.target = chromedp.FromContext(b.ctx).Target.TargetID

	b.logger.Printf("[browser] connected to Chrome CDP, target=%s", b.target)
	return nil
}

func (b *Browser) launch() error {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", b.opts.Headless))
	if b.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.opts.ExecPath))
	}

	b.allocCtx, b.allocCanc = chromedp.NewExecAllocator(context.Background(), opts...)
	b.ctx, b.ctxCanc = chromedp.NewContext(b.allocCtx)

	if err := chromedp.Run(b.ctx); err != nil {
		b.close()
		return fmt.Errorf("failed to launch Chrome: %w", err)
	}
	b.target = chromedp.FromContext(b.ctx).Target.TargetID

	b.logger.Printf("[browser] launched Chrome (headless=%v), target=%s", b.opts.Headless, b.target)
	return nil
}

// discover resolves the browser websocket URL and picks a page target.
// Discovery goes through the HTTP debug API rather than a throwaway
// chromedp context, which would leave stale session state behind.
func (b *Browser) discover(ctx context.Context) (string, target.ID, error) {
	base := strings.TrimRight(b.opts.DebugURL, "/")
	if strings.HasPrefix(base, "ws://") || strings.HasPrefix(base, "wss://") {
		return base, "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()

	wsURL, err := b.getWSURL(ctx, base)
	if err != nil {
		return "", "", fmt.Errorf("Chrome CDP not available at %s: %w", base, err)
	}
	targetID, err := b.findPageTarget(ctx, base)
	if err != nil {
		return "", "", fmt.Errorf("no page target found: %w", err)
	}
	return wsURL, targetID, nil
}

func (b *Browser) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.UnmarshalRead(resp.Body, v)
}

func (b *Browser) getWSURL(ctx context.Context, base string) (string, error) {
	var data struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := b.getJSON(ctx, base+"/json/version", &data); err != nil {
		return "", err
	}
	if data.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return data.WebSocketDebuggerURL, nil
}

func (b *Browser) findPageTarget(ctx context.Context, base string) (target.ID, error) {
	var targets []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := b.getJSON(ctx, base+"/json/list", &targets); err != nil {
		return "", err
	}

	// Prefer type "page".
	for _, t := range targets {
		if t.Type == "page" {
			return target.ID(t.ID), nil
		}
	}
	if len(targets) > 0 {
		return target.ID(targets[0].ID), nil
	}
	return "", fmt.Errorf("no targets available")
}

// Execute runs one CDP command on the attached page. Commands are
// serialized; ctx cancels the command without closing the page.
func (b *Browser) Execute(ctx context.Context, method string, params, res any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return ErrNotConnected
	}

	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, method, params, res)
	}))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Target returns the attached target, or "" before Connect.
func (b *Browser) Target() target.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// Close releases the connection. For a launched browser this also
// terminates the Chrome process. Close is safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.close()
	return nil
}

func (b *Browser) close() {
	if b.ctxCanc != nil {
		b.ctxCanc()
		b.ctxCanc = nil
	}
	if b.allocCanc != nil {
		b.allocCanc()
		b.allocCanc = nil
	}
	b.ctx = nil
	b.allocCtx = nil
	b.target = ""
}
