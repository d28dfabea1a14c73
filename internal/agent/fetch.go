package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openpact/sandboxbot/internal/patterns"
)

const defaultFetchMaxChars = 50000

var fetchHTTPClient = &http.Client{Timeout: 30 * time.Second}

// fetchURL retrieves url as plain text, rejecting any target matching the
// blocked-URL pattern list before making the request.
func fetchURL(ctx context.Context, store *patterns.Store, url string, maxChars int) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}
	if p, ok := patterns.MatchFirst(store.BlockedURLs, url); ok {
		return "", fmt.Errorf("fetch target is blocked (%s)", p.Reason)
	}
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", "sandboxbot/0.1 (AI agent)")

	resp, err := fetchHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	limited := io.LimitReader(resp.Body, int64(maxChars*2))
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	text := htmlToText(string(body))
	if len(text) > maxChars {
		text = text[:maxChars] + "\n\n[content truncated]"
	}
	return text, nil
}

func htmlToText(html string) string {
	scriptRe := regexp.MustCompile(`(?is)<script.*?</script>`)
	html = scriptRe.ReplaceAllString(html, "")

	styleRe := regexp.MustCompile(`(?is)<style.*?</style>`)
	html = styleRe.ReplaceAllString(html, "")

	commentRe := regexp.MustCompile(`(?s)<!--.*?-->`)
	html = commentRe.ReplaceAllString(html, "")

	blockTags := []string{"p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6"}
	for _, tag := range blockTags {
		re := regexp.MustCompile(fmt.Sprintf(`(?i)</?%s[^>]*>`, tag))
		html = re.ReplaceAllString(html, "\n")
	}

	tagRe := regexp.MustCompile(`<[^>]+>`)
	text := tagRe.ReplaceAllString(html, "")

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", "\"")
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&apos;", "'")

	spaceRe := regexp.MustCompile(`[ \t]+`)
	text = spaceRe.ReplaceAllString(text, " ")

	nlRe := regexp.MustCompile(`\n\s*\n+`)
	text = nlRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	return strings.TrimSpace(text)
}
