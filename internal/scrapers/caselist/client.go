// client.go is the authenticated page session, it knows how to log in and
// move around the site but nothing about what the pages contain.

package caselist

import (
	"bytes"
	"caselist-scout/internal/components/assert"
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/internal/pipeline"
	"caselist-scout/lib/htmlutil"
	"caselist-scout/lib/textutil"
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	report_client_authenticate = "client.authenticate"
	report_client_navigate     = "client.navigate"
	report_client_interact     = "client.interact"
)

var (
	ErrNavigation     = errors.New("navigation failed")
	ErrLoginFailed    = errors.New("login failed")
	ErrTargetNotFound = errors.New("target not found")
)

// NavigationError is returned when a page could not be rendered, either
// because the request itself failed or because the site answered with a
// non-2xx status. It matches ErrNavigation.
type NavigationError struct {
	Address string
	Status  int
	Err     error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigate %s: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("navigate %s: status %d", e.Address, e.Status)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

func (e *NavigationError) Is(target error) bool {
	return target == ErrNavigation
}

type ClientOptions struct {
	BaseUrl   string
	LoginPath string
	// AllowedHosts are hosts redirects may lead to besides the one of
	// BaseUrl.
	AllowedHosts      []string
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// fuzzyMatchThreshold is the lowest Jaro-Winkler similarity at which a link
// is still taken to be the requested target.
const fuzzyMatchThreshold = 0.9

// Client implements pipeline.Session over plain HTTP.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	loginPath     string
	authenticated bool
	tel           telemetry.API
}

func NewClient(options ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(options.BaseUrl)

	tel = telemetry.NewScopedAPI("caselist_scraper", tel)

	parsedBaseUrl, err := url.Parse(options.BaseUrl)
	if err != nil {
		return nil, err
	}
	if options.LoginPath == "" {
		options.LoginPath = "/login"
	}
	if options.RequestsPerSecond <= 0 {
		options.RequestsPerSecond = 2
	}
	if options.Timeout <= 0 {
		options.Timeout = time.Minute
	}
	if options.UserAgent == "" {
		options.UserAgent = defaultUserAgent
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(options.BaseUrl, "/"))
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", options.UserAgent)
	hosts := append([]string{parsedBaseUrl.Hostname()}, options.AllowedHosts...)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hosts...))
	httpClient.SetTimeout(options.Timeout)

	// max burst >= rate just means that no requests will be dropped
	burst := max(1, int(options.RequestsPerSecond))
	rateLimiter := rate.NewLimiter(rate.Limit(options.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		BaseUrl:   parsedBaseUrl,
		Http:      httpClient,
		loginPath: options.LoginPath,
		tel:       tel,
	}, nil
}

func (c *Client) resolve(address string) (*url.URL, error) {
	ref, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	return c.BaseUrl.ResolveReference(ref), nil
}

func parseContent(content pipeline.Content) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content.Body))
	if err != nil {
		return nil, err
	}
	if content.Address != nil {
		doc.Url = content.Address
	}
	return doc, nil
}

// Navigate renders the page at address, relative addresses are resolved
// against the base url.
func (c *Client) Navigate(ctx context.Context, address string) (pipeline.Content, error) {
	target, err := c.resolve(address)
	if err != nil {
		return pipeline.Content{}, &NavigationError{Address: address, Err: err}
	}
	endpoint := target.String()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		c.tel.ReportWarning(report_client_navigate, fmt.Errorf("fetch: %w", err), endpoint)
		return pipeline.Content{}, &NavigationError{Address: endpoint, Err: err}
	}
	if res.IsError() {
		c.tel.ReportWarning(report_client_navigate, fmt.Errorf("status: %s", res.Status()), endpoint)
		return pipeline.Content{}, &NavigationError{Address: endpoint, Status: res.StatusCode()}
	}

	final := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL
	}
	return pipeline.Content{Address: final, Body: res.Body()}, nil
}

// Authenticate logs in through the site's login form. When the login page no
// longer shows a form the existing session is kept.
func (c *Client) Authenticate(ctx context.Context, creds pipeline.Credentials) error {
	loginError := func(err error) error {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	page, err := c.Navigate(ctx, c.loginPath)
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("login page: %w", err))
		return loginError(err)
	}
	doc, err := parseContent(page)
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("parse login page: %w", err))
		return loginError(err)
	}

	username := doc.Find("input[name=username]").First()
	if username.Length() == 0 {
		if c.authenticated {
			c.tel.ReportDebug("session still valid")
			return nil
		}
		err := fmt.Errorf("could not find login form")
		c.tel.ReportBroken(report_client_authenticate, err, page.Address.String())
		return loginError(err)
	}

	form := username.Closest("form")
	fields := map[string]string{}
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		fields[input.AttrOr("name", "")] = input.AttrOr("value", "")
	})
	fields["username"] = creds.Username
	fields["password"] = creds.Password

	action := page.Address
	if href := form.AttrOr("action", ""); href != "" {
		ref, err := url.Parse(href)
		if err != nil {
			c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("parse form action: %w", err), href)
			return loginError(err)
		}
		action = page.Address.ResolveReference(ref)
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(action.String())
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("login request: %w", err))
		return loginError(err)
	}
	if res.IsError() {
		err := fmt.Errorf("login request: status %s", res.Status())
		c.tel.ReportWarning(report_client_authenticate, err)
		return loginError(err)
	}

	doc, err = goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("parse login response: %w", err))
		return loginError(err)
	}
	if doc.Find("input[type=password]").Length() > 0 {
		err := fmt.Errorf("login form shown again, credentials were likely rejected")
		c.tel.ReportWarning(report_client_authenticate, err)
		return loginError(err)
	}

	c.authenticated = true
	return nil
}

// Interact follows the link of content whose text best matches target.
func (c *Client) Interact(ctx context.Context, content pipeline.Content, target string) (pipeline.Content, error) {
	doc, err := parseContent(content)
	if err != nil {
		c.tel.ReportBroken(report_client_interact, fmt.Errorf("parse: %w", err), target)
		return pipeline.Content{}, err
	}

	anchors := htmlutil.GetAnchors(ctx, content.Address, doc.Find("a[href]"))
	anchor, ok := matchAnchor(anchors, target)
	if !ok {
		return pipeline.Content{}, fmt.Errorf("%w: %q", ErrTargetNotFound, target)
	}
	if anchor.Name != target {
		c.tel.ReportDebug("matched target loosely", target, anchor.Name)
	}

	return c.Navigate(ctx, anchor.Url.String())
}

// matchAnchor looks for an exact match first, then for containment in either
// direction ignoring case and spacing, then for the most similar name.
func matchAnchor(anchors []htmlutil.Anchor, target string) (htmlutil.Anchor, bool) {
	for _, a := range anchors {
		if a.Name == target {
			return a, true
		}
	}

	for _, a := range anchors {
		name := textutil.NormalizeName(a.Name)
		if name == "" {
			continue
		}
		if textutil.MatchName(a.Name, target) {
			return a, true
		}
		// link texts like "A" would otherwise match almost any target
		if len(name) >= 3 && textutil.MatchName(target, a.Name) {
			return a, true
		}
	}

	lowerTarget := strings.ToLower(target)

	var (
		best      htmlutil.Anchor
		bestScore float64
	)
	for _, a := range anchors {
		if a.Name == "" {
			continue
		}
		score := matchr.JaroWinkler(strings.ToLower(a.Name), lowerTarget, false)
		if score > bestScore {
			best = a
			bestScore = score
		}
	}
	if bestScore >= fuzzyMatchThreshold {
		return best, true
	}
	return htmlutil.Anchor{}, false
}
