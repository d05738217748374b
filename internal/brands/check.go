// Package brands verifies and generates the icon assets the Home Assistant
// brands repository is expected to carry for this integration.
package brands

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/moderntides/moderntides/internal/httputil"
)

// DefaultBaseURL is where merged brand assets are served from.
const DefaultBaseURL = "https://raw.githubusercontent.com/home-assistant/brands/master/custom_integrations/moderntides/"

// DefaultFiles are the assets the brands repo must carry.
var DefaultFiles = []string{"icon.png", "icon@2x.png"}

// Checker performs HEAD existence checks against the brands repository.
type Checker struct {
	client *http.Client
	out    io.Writer
}

// NewChecker builds a Checker writing its report to out. A nil client gets
// the standard one.
func NewChecker(client *http.Client, out io.Writer) *Checker {
	if client == nil {
		client = httputil.NewClient()
	}
	return &Checker{client: client, out: out}
}

// Check issues exactly one HEAD request per file, with no retries, so a
// transient network failure reads the same as a genuinely missing file.
// It returns the number of missing files; the caller maps a non-zero count
// to a non-zero exit status.
func (c *Checker) Check(ctx context.Context, baseURL string, files []string) (int, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if len(files) == 0 {
		files = DefaultFiles
	}

	missing := 0
	for _, file := range files {
		if c.exists(ctx, baseURL+file) {
			fmt.Fprintf(c.out, "✅ Found: %s\n", file)
		} else {
			fmt.Fprintf(c.out, "❌ Missing: %s\n", file)
			missing++
		}
	}

	if missing == 0 {
		fmt.Fprintln(c.out, "All brand files are available!")
	} else {
		fmt.Fprintf(c.out, "Missing %d brand file(s)\n", missing)
	}
	return missing, nil
}

func (c *Checker) exists(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
