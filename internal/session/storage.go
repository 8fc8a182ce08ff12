package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/virtru-e2e/internal/errs"
)

// StorageState is the Playwright storage-state file format: cookies plus
// per-origin localStorage.
type StorageState struct {
	Cookies []StoredCookie `json:"cookies"`
	Origins []StoredOrigin `json:"origins"`
}

// StoredCookie is one cookie as written by Playwright's storageState().
type StoredCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// StoredOrigin holds the localStorage entries of one origin.
type StoredOrigin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StoredEntry `json:"localStorage"`
}

// StoredEntry is a localStorage key/value pair.
type StoredEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadStorageState reads and parses a storage-state file.
func LoadStorageState(path string) (*StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.FailedPrecondition, "read storage state", err)
	}
	return ParseStorageState(data)
}

// ParseStorageState parses storage-state JSON. Cookies without a name or
// domain are rejected.
func ParseStorageState(data []byte) (*StorageState, error) {
	var st StorageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "parse storage state", err)
	}
	for i, c := range st.Cookies {
		if c.Name == "" || c.Domain == "" {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("storage state cookie %d has no name or domain", i))
		}
	}
	return &st, nil
}

// PlaywrightCookies converts the stored cookies for BrowserContext.AddCookies.
// Session cookies (expires <= 0) are added without an expiry.
func (s *StorageState) PlaywrightCookies() []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
			SameSite: sameSite(c.SameSite),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		out = append(out, oc)
	}
	return out
}

func sameSite(v string) *playwright.SameSiteAttribute {
	switch strings.ToLower(v) {
	case "strict":
		return playwright.SameSiteAttributeStrict
	case "none":
		return playwright.SameSiteAttributeNone
	case "lax":
		return playwright.SameSiteAttributeLax
	}
	return nil
}

// initScriptTemplate seeds localStorage for the current origin without
// overwriting values the page already wrote.
const initScriptTemplate = `(() => {
  const state = %s;
  const items = state[location.origin];
  if (!items) return;
  for (const [k, v] of items) {
    try { if (localStorage.getItem(k) === null) localStorage.setItem(k, v); } catch (e) {}
  }
})();`

// InitScript returns a context init script restoring localStorage, or ""
// when there is nothing to restore.
func (s *StorageState) InitScript() (string, error) {
	byOrigin := map[string][][2]string{}
	for _, o := range s.Origins {
		for _, e := range o.LocalStorage {
			byOrigin[o.Origin] = append(byOrigin[o.Origin], [2]string{e.Name, e.Value})
		}
	}
	if len(byOrigin) == 0 {
		return "", nil
	}
	data, err := json.Marshal(byOrigin)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "encode storage state", err)
	}
	return fmt.Sprintf(initScriptTemplate, data), nil
}
