package slackapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slack_scheduler/internal/metrics"
	"slack_scheduler/internal/models"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

const authorizeURL = "https://slack.com/oauth/v2/authorize"

// ErrUnreachable means the Web API could not be asked at all: DNS, TCP, TLS,
// timeouts, 5xx pages. The request may or may not have reached Slack.
var ErrUnreachable = errors.New("slack api unreachable")

// APIError is a well-formed "ok": false answer.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

type Config struct {
	// APIURL overrides https://slack.com/api/ (tests, proxies). Empty = default.
	APIURL       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	RatePerSec  float64
	RateBurst   int
	HTTPTimeout time.Duration
}

// Client talks to the Slack Web API on behalf of any workspace: the bot token
// is passed per call. All calls share one rate limiter.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	transport := http.DefaultTransport
	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.APIURL, "/") + "/")
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("invalid SLACK_API_URL %q", cfg.APIURL)
		}
		transport = &rewriteTransport{base: base, next: http.DefaultTransport}
	}

	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.HTTPTimeout, Transport: transport},
		limiter: lim,
		logger:  logger,
	}, nil
}

func (c *Client) api(token string) *slack.Client {
	return slack.New(token, slack.OptionHTTPClient(c.http))
}

// Deliver posts text to a channel. A rejection by Slack (unknown channel,
// revoked token, rate limit) is returned as DeliveryResult{OK:false}; err is
// reserved for ErrUnreachable and context errors.
func (c *Client) Deliver(ctx context.Context, token, channelID, text string) (models.DeliveryResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.DeliveryResult{}, fmt.Errorf("wait rate limiter: %w", err)
	}

	start := time.Now()
	_, ts, err := c.api(token).PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err == nil {
		metrics.ObserveSlackRequest("chat.postMessage", "ok", time.Since(start))
		return models.DeliveryResult{OK: true, MessageTS: ts}, nil
	}

	if code, ok := rejection(err); ok {
		metrics.ObserveSlackRequest("chat.postMessage", "rejected", time.Since(start))
		return models.DeliveryResult{OK: false, ErrorDetail: code}, nil
	}

	metrics.ObserveSlackRequest("chat.postMessage", "error", time.Since(start))
	if ctx.Err() != nil {
		return models.DeliveryResult{}, ctx.Err()
	}
	return models.DeliveryResult{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// ListChannels returns public and private channels visible to the bot, following pagination.
func (c *Client) ListChannels(ctx context.Context, token string) ([]models.Channel, error) {
	api := c.api(token)
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		Limit:           200,
		ExcludeArchived: true,
	}

	res := make([]models.Channel, 0)
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait rate limiter: %w", err)
		}

		start := time.Now()
		page, next, err := api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, c.callErr("conversations.list", start, err)
		}
		metrics.ObserveSlackRequest("conversations.list", "ok", time.Since(start))

		for _, ch := range page {
			res = append(res, models.Channel{
				ID:        ch.ID,
				Name:      ch.Name,
				IsPrivate: ch.IsPrivate,
				Members:   ch.NumMembers,
			})
		}
		if next == "" {
			return res, nil
		}
		params.Cursor = next
	}
}

// Installation is the outcome of a completed OAuth flow.
type Installation struct {
	Workspace   string
	TeamID      string
	AccessToken string
}

// ExchangeCode trades an OAuth callback code for the workspace bot token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Installation, error) {
	start := time.Now()
	resp, err := slack.GetOAuthV2ResponseContext(ctx, c.http, c.cfg.ClientID, c.cfg.ClientSecret, code, c.cfg.RedirectURI)
	if err != nil {
		return Installation{}, c.callErr("oauth.v2.access", start, err)
	}
	metrics.ObserveSlackRequest("oauth.v2.access", "ok", time.Since(start))

	inst := Installation{
		Workspace:   resp.Team.Name,
		TeamID:      resp.Team.ID,
		AccessToken: resp.AccessToken,
	}
	if inst.Workspace == "" || inst.AccessToken == "" {
		return Installation{}, &APIError{Method: "oauth.v2.access", Code: "missing_team_or_token"}
	}
	return inst, nil
}

// AuthorizeURL is where the install flow sends the browser.
func (c *Client) AuthorizeURL() string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("scope", strings.Join(c.cfg.Scopes, ","))
	if c.cfg.RedirectURI != "" {
		q.Set("redirect_uri", c.cfg.RedirectURI)
	}
	return authorizeURL + "?" + q.Encode()
}

func (c *Client) callErr(method string, start time.Time, err error) error {
	if code, ok := rejection(err); ok {
		metrics.ObserveSlackRequest(method, "rejected", time.Since(start))
		return &APIError{Method: method, Code: code}
	}
	metrics.ObserveSlackRequest(method, "error", time.Since(start))
	c.logger.Warn().Err(err).Str("method", method).Msg("slack api call failed")
	return fmt.Errorf("%s: %w: %w", method, ErrUnreachable, err)
}

// rejection extracts the Slack error code from an "ok": false answer.
func rejection(err error) (string, bool) {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Err, true
	}
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return "ratelimited", true
	}
	return "", false
}

// rewriteTransport points requests for slack.APIURL at another base URL.
// slack-go hardcodes the endpoint for the OAuth exchange, so OptionAPIURL alone is not enough.
type rewriteTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.HasPrefix(req.URL.String(), slack.APIURL) {
		return t.next.RoundTrip(req)
	}

	method := strings.TrimPrefix(req.URL.String(), slack.APIURL)
	target, err := t.base.Parse(method)
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	out.URL = target
	out.Host = target.Host
	return t.next.RoundTrip(out)
}
