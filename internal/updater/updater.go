// Package updater checks GitHub for newer srix-agent releases.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	// ReleasesURL lists the most recent releases
	ReleasesURL = "https://api.github.com/repos/SimplyPrint/srix-agent/releases?per_page=20"
	// CacheDuration defines how long to cache update check results
	CacheDuration = 30 * time.Minute
	// RequestTimeout is the timeout for GitHub API requests
	RequestTimeout = 10 * time.Second
	// UserAgent identifies this client to GitHub
	UserAgent = "srix-agent-updater"
	// MaxReleaseNotesLength is the maximum length of release notes to return
	MaxReleaseNotesLength = 500
)

// releasePattern matches agent release tags (v1.2.3) but not prefixed ones
// such as sdk-v1.2.3.
var releasePattern = regexp.MustCompile(`^v\d+\.\d+\.\d+`)

// GitHubRelease represents the GitHub API response for a release
type GitHubRelease struct {
	TagName     string        `json:"tag_name"`
	Body        string        `json:"body"`
	HTMLURL     string        `json:"html_url"`
	Draft       bool          `json:"draft"`
	PublishedAt time.Time     `json:"published_at"`
	Assets      []GitHubAsset `json:"assets"`
}

// GitHubAsset represents a release asset (download file)
type GitHubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// UpdateInfo is the result of one check. Failures are reported in Error
// so the result can be cached and served as is.
type UpdateInfo struct {
	Available      bool       `json:"available"`
	CurrentVersion string     `json:"currentVersion"`
	LatestVersion  string     `json:"latestVersion,omitempty"`
	ReleaseURL     string     `json:"releaseUrl,omitempty"`
	ReleaseNotes   string     `json:"releaseNotes,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	DownloadURL    string     `json:"downloadUrl,omitempty"`
	Platform       string     `json:"platform"`
	CheckedAt      time.Time  `json:"checkedAt"`
	Error          string     `json:"error,omitempty"`
	IsDev          bool       `json:"isDev"`
}

// Checker handles update checking with caching
type Checker struct {
	currentVersion string
	releasesURL    string
	httpClient     *http.Client

	mu           sync.Mutex
	cachedResult *UpdateInfo
	cacheExpiry  time.Time
}

// NewChecker creates a checker for currentVersion. An empty releasesURL
// uses ReleasesURL.
func NewChecker(currentVersion, releasesURL string) *Checker {
	if releasesURL == "" {
		releasesURL = ReleasesURL
	}
	return &Checker{
		currentVersion: currentVersion,
		releasesURL:    releasesURL,
		httpClient:     &http.Client{Timeout: RequestTimeout},
	}
}

// Check returns the cached result unless it expired or forceRefresh is set.
func (c *Checker) Check(ctx context.Context, forceRefresh bool) *UpdateInfo {
	c.mu.Lock()
	if !forceRefresh && c.cachedResult != nil && time.Now().Before(c.cacheExpiry) {
		result := *c.cachedResult
		c.mu.Unlock()
		return &result
	}
	c.mu.Unlock()

	result := c.fetch(ctx)

	c.mu.Lock()
	c.cachedResult = result
	c.cacheExpiry = time.Now().Add(CacheDuration)
	c.mu.Unlock()

	copied := *result
	return &copied
}

// ClearCache clears the cached update info
func (c *Checker) ClearCache() {
	c.mu.Lock()
	c.cachedResult = nil
	c.cacheExpiry = time.Time{}
	c.mu.Unlock()
}

func (c *Checker) fetch(ctx context.Context) *UpdateInfo {
	current := ParseVersion(c.currentVersion)
	info := &UpdateInfo{
		CurrentVersion: c.currentVersion,
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		CheckedAt:      time.Now(),
		IsDev:          current.IsDev(),
	}

	release, err := c.latestRelease(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}

	info.LatestVersion = release.TagName
	info.ReleaseURL = release.HTMLURL
	info.ReleaseNotes = truncateReleaseNotes(release.Body, MaxReleaseNotesLength)
	info.PublishedAt = &release.PublishedAt
	info.DownloadURL = findDownloadURL(release.Assets, runtime.GOOS, runtime.GOARCH)

	// dev builds are usually ahead of the last release
	info.Available = !current.IsDev() && current.IsOlderThan(ParseVersion(release.TagName))
	return info
}

func (c *Checker) latestRelease(ctx context.Context) (*GitHubRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releasesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited by GitHub API, try again later")
	case http.StatusNotFound:
		return nil, fmt.Errorf("no releases found")
	default:
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var releases []GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("failed to parse release info: %w", err)
	}

	// sorted newest first
	for i := range releases {
		if !releases[i].Draft && releasePattern.MatchString(releases[i].TagName) {
			return &releases[i], nil
		}
	}
	return nil, fmt.Errorf("no srix-agent releases found")
}

var (
	archAliases = map[string][]string{
		"amd64": {"amd64", "x86_64", "x64"},
		"arm64": {"arm64", "aarch64"},
		"386":   {"386", "i386", "x86"},
	}
	osAliases = map[string][]string{
		"darwin":  {"darwin", "macos"},
		"windows": {"windows", "win"},
		"linux":   {"linux"},
	}
	// most preferred first
	preferredExtensions = map[string][]string{
		"darwin":  {".pkg", ".tar.gz", ".zip"},
		"windows": {".msi", ".exe", ".zip"},
		"linux":   {".deb", ".rpm", ".tar.gz", ".zip"},
	}
)

// findDownloadURL picks the asset for goos/goarch with the most preferred
// extension, or "" when nothing matches.
func findDownloadURL(assets []GitHubAsset, goos, goarch string) string {
	osNames := osAliases[goos]
	if osNames == nil {
		osNames = []string{goos}
	}
	archNames := archAliases[goarch]
	if archNames == nil {
		archNames = []string{goarch}
	}
	extensions := preferredExtensions[goos]
	if extensions == nil {
		extensions = []string{".tar.gz", ".zip"}
	}

	best, bestScore := "", len(extensions)+1
	for _, asset := range assets {
		name := strings.ToLower(asset.Name)
		if !containsAny(name, osNames) {
			continue
		}
		if !containsAny(name, archNames) && !(goos == "darwin" && strings.Contains(name, "universal")) {
			continue
		}

		score := len(extensions)
		for i, ext := range extensions {
			if strings.HasSuffix(name, ext) {
				score = i
				break
			}
		}
		if score < bestScore {
			best, bestScore = asset.BrowserDownloadURL, score
		}
	}
	return best
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// truncateReleaseNotes truncates release notes to maxLen characters
func truncateReleaseNotes(notes string, maxLen int) string {
	notes = strings.TrimSpace(notes)
	if len(notes) <= maxLen {
		return notes
	}
	return notes[:maxLen] + "..."
}
