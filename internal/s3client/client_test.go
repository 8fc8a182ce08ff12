package s3client

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestKey(t *testing.T) {
	t.Parallel()
	c := NewFromS3Client(nil, "b", "/runs/")
	if got := c.Key("/abc/shot.png"); got != "runs/abc/shot.png" {
		t.Fatalf("Key = %q", got)
	}
	if got := NewFromS3Client(nil, "b", "").Key("x.json"); got != "x.json" {
		t.Fatalf("Key without prefix = %q", got)
	}
	if got := c.URI("x.json"); got != "s3://b/runs/x.json" {
		t.Fatalf("URI = %q", got)
	}
}

func TestClient_PutGetList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := TestClient(t, "artifacts", "virtru-e2e")

	if err := c.PutObject(ctx, "run-1/chrome/01-open_inbox.png", []byte("png"), "image/png"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := c.PutObject(ctx, "run-1/report.md", []byte("# report"), "text/markdown"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	got, err := c.GetObject(ctx, "run-1/report.md")
	if err != nil || string(got) != "# report" {
		t.Fatalf("GetObject = %q, %v", got, err)
	}

	keys, err := c.List(ctx, "run-1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}

	if _, err := c.GetObject(ctx, "run-1/missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("missing object err = %v", err)
	}
}

// =============================================================================
// Property: whatever is stored under a key reads back byte-for-byte
// =============================================================================

func testClient_RoundTrip(t *rapid.T, c *Client) {
	name := rapid.StringMatching(`[a-z0-9]{1,12}/[a-z0-9_-]{1,20}\.(png|md|zip)`).Draw(t, "name")
	body := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "body")
	ctx := context.Background()
	if err := c.PutObject(ctx, name, body, "application/octet-stream"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	got, err := c.GetObject(ctx, name)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("round trip mismatch for %s", name)
	}
}

func TestClient_RoundTrip(t *testing.T) {
	c := TestClient(t, "roundtrip", "p")
	rapid.Check(t, func(rt *rapid.T) { testClient_RoundTrip(rt, c) })
}
