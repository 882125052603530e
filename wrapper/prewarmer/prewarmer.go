// Package prewarmer populates a cache ahead of real traffic by fetching a
// known set of URLs through a caching http.Client. It can read the URL set
// from an XML sitemap, including sitemap indexes.
package prewarmer

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sandrolain/httpcaching"
)

// Config holds the settings for creating a Prewarmer.
type Config struct {
	// Client performs the requests. It should be built around a caching
	// transport, otherwise prewarming fetches without storing anything.
	// Required.
	Client *http.Client

	// UserAgent sent with every request. Empty means a package default.
	UserAgent string

	// Timeout for each individual request. Zero means 30 seconds.
	Timeout time.Duration

	// Workers is the number of concurrent fetches. Zero or one means
	// sequential.
	Workers int

	// ForceRefresh sends Cache-Control: no-cache so that already cached
	// entries get refetched from the origin.
	ForceRefresh bool
}

// Prewarmer fetches URLs so their responses land in the cache before
// clients ask for them.
type Prewarmer struct {
	client       *http.Client
	userAgent    string
	timeout      time.Duration
	workers      int
	forceRefresh bool
}

// Result describes the outcome of fetching one URL.
type Result struct {
	URL        string
	Success    bool
	StatusCode int
	Duration   time.Duration
	Size       int64
	FromCache  bool
	Error      error
}

// Stats aggregates the results of one prewarm run.
type Stats struct {
	Total         int
	Successful    int
	Failed        int
	FromCache     int
	TotalBytes    int64
	TotalDuration time.Duration
	Errors        []error
}

// ProgressCallback runs after each URL completes. With multiple workers it
// is called from several goroutines and must be safe for that.
type ProgressCallback func(result *Result, completed, total int)

// New returns a Prewarmer with the given configuration.
func New(config Config) (*Prewarmer, error) {
	if config.Client == nil {
		return nil, errors.New("prewarmer: client is required")
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = "httpcaching-prewarmer/1.0"
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	workers := config.Workers
	if workers < 1 {
		workers = 1
	}

	return &Prewarmer{
		client:       config.Client,
		userAgent:    userAgent,
		timeout:      timeout,
		workers:      workers,
		forceRefresh: config.ForceRefresh,
	}, nil
}

// Prewarm fetches the given URLs and returns aggregate statistics. The
// optional callback runs after each URL.
func (p *Prewarmer) Prewarm(ctx context.Context, urls []string, callback ProgressCallback) (*Stats, error) {
	stats := &Stats{Total: len(urls)}
	startTime := time.Now()

	urlChan := make(chan string, len(urls))
	for _, url := range urls {
		urlChan <- url
	}
	close(urlChan)

	resultChan := make(chan *Result, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range urlChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				resultChan <- p.fetch(ctx, url)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var completed int32
	for result := range resultChan {
		if result.Success {
			stats.Successful++
			stats.TotalBytes += result.Size
			if result.FromCache {
				stats.FromCache++
			}
		} else {
			stats.Failed++
			if result.Error != nil {
				stats.Errors = append(stats.Errors, result.Error)
			}
		}

		if callback != nil {
			callback(result, int(atomic.AddInt32(&completed, 1)), len(urls))
		}
	}

	stats.TotalDuration = time.Since(startTime)
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// PrewarmSitemap fetches an XML sitemap, collects its URLs and prewarms
// them. Sitemap indexes are followed recursively.
func (p *Prewarmer) PrewarmSitemap(ctx context.Context, sitemapURL string, callback ProgressCallback) (*Stats, error) {
	urls, err := p.parseSitemap(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("prewarmer: failed to parse sitemap: %w", err)
	}
	return p.Prewarm(ctx, urls, callback)
}

func (p *Prewarmer) fetch(ctx context.Context, url string) *Result {
	result := &Result{URL: url}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}

	req.Header.Set("User-Agent", p.userAgent)
	if p.forceRefresh {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("request failed: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}
	defer resp.Body.Close()

	// The body has to be consumed for the response to get cached.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Errorf("failed to read body: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}

	result.Duration = time.Since(startTime)
	result.StatusCode = resp.StatusCode
	result.Size = int64(len(body))
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 400
	result.FromCache = resp.Header.Get(httpcaching.XFromCache) == "1"

	if !result.Success {
		result.Error = fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return result
}

type sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	XMLName  xml.Name          `xml:"sitemapindex"`
	Sitemaps []sitemapLocation `xml:"sitemap"`
}

type sitemapLocation struct {
	Loc string `xml:"loc"`
}

func (p *Prewarmer) parseSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var allURLs []string
		for _, sm := range index.Sitemaps {
			urls, err := p.parseSitemap(ctx, sm.Loc)
			if err != nil {
				continue
			}
			allURLs = append(allURLs, urls...)
		}
		return allURLs, nil
	}

	var sm sitemap
	if err := xml.Unmarshal(body, &sm); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap XML: %w", err)
	}

	urls := make([]string, 0, len(sm.URLs))
	for _, u := range sm.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}
