// Package browser exercises the Playwright-backed DOM adapter against a small
// webmail stand-in served from httptest. Tests skip when Playwright or its
// Chromium build is not installed.
package browser

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	// CODING AGENT RULE: Always use these timeout constants for browser tests.
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeoutMS = 5000
	browserMaxTimeout   = 5 * time.Second
)

// BrowserTestEnv is a fake webmail server plus a headless Chromium.
type BrowserTestEnv struct {
	Server  *httptest.Server
	BaseURL string

	mu      sync.Mutex
	reloads int

	pw      *playwright.Playwright
	browser playwright.Browser
}

// SetupBrowserTestEnv starts the fake webmail server.
func SetupBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()

	env := &BrowserTestEnv{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /inbox", env.handleInbox)
	mux.HandleFunc("GET /compose", serveHTML(composePage))
	mux.HandleFunc("GET /toolbar", serveHTML(toolbarFrame))
	mux.HandleFunc("GET /message", serveHTML(messagePage))

	env.Server = httptest.NewServer(mux)
	env.BaseURL = env.Server.URL
	t.Cleanup(env.Server.Close)
	return env
}

// Reloads reports how many times the inbox was served.
func (env *BrowserTestEnv) Reloads() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.reloads
}

// InitBrowser initializes Playwright and launches Chromium. Skips the test if not available.
func (env *BrowserTestEnv) InitBrowser(t *testing.T) {
	t.Helper()

	pw, err := playwright.Run()
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		_ = pw.Stop()
		t.Skip("Could not launch browser:", err)
	}
	env.pw = pw
	env.browser = browser
	t.Cleanup(func() {
		_ = browser.Close()
		_ = pw.Stop()
	})
}

// NewPage creates a new browser page with default 5s timeout.
func (env *BrowserTestEnv) NewPage(t *testing.T) playwright.Page {
	t.Helper()

	page, err := env.browser.NewPage()
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	page.SetDefaultTimeout(browserMaxTimeoutMS)
	page.SetDefaultNavigationTimeout(browserMaxTimeoutMS)
	t.Cleanup(func() { _ = page.Close() })
	return page
}

// NewOpener returns an opener for fresh tabs in the shared browser.
func (env *BrowserTestEnv) NewOpener(t *testing.T) func() (playwright.Page, error) {
	return func() (playwright.Page, error) {
		return env.NewPage(t), nil
	}
}

// =============================================================================
// Fake webmail pages
// =============================================================================

func (env *BrowserTestEnv) handleInbox(w http.ResponseWriter, r *http.Request) {
	env.mu.Lock()
	env.reloads++
	n := env.reloads
	env.mu.Unlock()

	// The message "arrives" on the second load.
	rows := ""
	if n >= 2 {
		rows = `<tr role="row" class="zA"><td><span class="bog">Test-123</span></td></tr>`
	}
	serveHTML(`<!doctype html><html><head><title>Inbox</title></head><body>
<div role="navigation"><a href="/compose">Compose</a></div>
<table role="grid"><tbody>` + rows + `</tbody></table>
</body></html>`)(w, r)
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

const composePage = `<!doctype html><html><head><title>Compose</title></head><body>
<div role="dialog" aria-label="New Message">
  <input name="to" aria-label="To recipients" placeholder="Recipients">
  <input name="subjectbox" placeholder="Subject">
  <div role="textbox" aria-label="Message Body" contenteditable="true"></div>
  <div role="button" id="send" aria-label="Send">Send</div>
  <span id="hidden" style="display:none">secret</span>
  <span id="status"></span>
  <iframe class="virtru-toolbar" src="/toolbar"></iframe>
</div>
<script>
document.getElementById('send').addEventListener('click', function () {
  document.getElementById('status').textContent = 'Message sent';
  document.getElementById('send').setAttribute('aria-disabled', 'true');
});
</script>
</body></html>`

const toolbarFrame = `<!doctype html><html><body>
<label><input type="checkbox" id="toggle" role="switch" aria-checked="false"> Virtru Protection</label>
<script>
document.getElementById('toggle').addEventListener('click', function (e) {
  var on = e.target.getAttribute('aria-checked') === 'true';
  e.target.setAttribute('aria-checked', on ? 'false' : 'true');
});
</script>
</body></html>`

const messagePage = `<!doctype html><html><body>
<h2 class="hP">Test-123</h2>
<div class="a3s">Hello   Secure
World</div>
</body></html>`
