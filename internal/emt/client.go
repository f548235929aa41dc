package emt

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zsmatrix62/emtl/internal/captcha"
	"github.com/zsmatrix62/emtl/internal/domain"
)

const DefaultQuoteURL = "https://emhsmarketwg.eastmoneysec.com"

// DefaultDuration is the requested session lifetime in minutes.
const DefaultDuration = 180

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var validateKeyRe = regexp.MustCompile(`id="em_validatekey" type="hidden" value="(.*?)"`)

// PasswordEncrypter obfuscates the portal password for the login form.
type PasswordEncrypter interface {
	Encrypt(plaintext string) (string, error)
}

type Options struct {
	BaseURL        string
	QuoteURL       string
	Solver         captcha.Solver
	Encrypter      PasswordEncrypter
	HTTPClient     *http.Client
	CaptchaTimeout time.Duration
	Duration       int
}

// Client is a session-authenticated portal client. One client owns one
// cookie-bearing transport and one validate key; callers must serialize
// operations on a single client themselves.
type Client struct {
	hc        *http.Client
	jar       http.CookieJar
	endpoints endpointTable
	quoteURL  string
	solver    captcha.Solver
	encrypter PasswordEncrypter

	captchaTimeout time.Duration
	duration       int

	identity    string
	secret      string
	validateKey string
}

func NewClient(opts Options) (*Client, error) {
	if opts.Solver == nil {
		return nil, errors.New("emt: captcha solver is required")
	}
	if opts.Encrypter == nil {
		return nil, errors.New("emt: password encrypter is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	quote := opts.QuoteURL
	if quote == "" {
		quote = DefaultQuoteURL
	}
	hc := opts.HTTPClient
	var jar http.CookieJar
	if hc != nil && hc.Jar != nil {
		jar = hc.Jar
	} else {
		j, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("emt: new cookie jar: %w", err)
		}
		jar = j
		if hc == nil {
			hc = &http.Client{Timeout: 30 * time.Second}
		}
		hc.Jar = jar
	}
	captchaTimeout := opts.CaptchaTimeout
	if captchaTimeout <= 0 {
		captchaTimeout = 60 * time.Second
	}
	duration := opts.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Client{
		hc:             hc,
		jar:            jar,
		endpoints:      newEndpointTable(base),
		quoteURL:       strings.TrimRight(quote, "/"),
		solver:         opts.Solver,
		encrypter:      opts.Encrypter,
		captchaTimeout: captchaTimeout,
		duration:       duration,
	}, nil
}

func (c *Client) Identity() string { return c.identity }

// Token returns the current validate key; empty means not authenticated.
func (c *Client) Token() string { return c.validateKey }

// SetCredentials arms the client for lazy login and expiry-driven re-login.
// The secret stays in memory only and is never serialized.
func (c *Client) SetCredentials(identity, secret string) {
	c.identity = strings.TrimSpace(identity)
	c.secret = secret
}

func (c *Client) baseHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "*/*")
	return h
}

// checkResponse is the single classification gate for every portal response.
// Order matters: opaque image bodies bypass everything, then transport
// status, then the JSON envelope.
func (c *Client) checkResponse(resp *http.Response, body []byte) error {
	if strings.Contains(resp.Header.Get("Content-Type"), "image") {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var env struct {
		Status  *int   `json:"Status"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Status == nil {
		// Not a structured envelope (e.g. HTML page, plain text): pass through.
		return nil
	}
	switch *env.Status {
	case -2:
		return ErrSessionExpired
	case -1:
		msg := env.Message
		if msg == "" {
			msg = string(body)
		}
		return &APIError{Message: msg, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header = c.baseHeaders()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if err := c.checkResponse(resp, body); err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (c *Client) postForm(ctx context.Context, rawURL string, data url.Values, extra http.Header) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header = c.baseHeaders()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if err := c.checkResponse(resp, body); err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// randomCorrelation draws a cryptographically random number in [0,1) so
// concurrent logins never share a captcha correlation.
func randomCorrelation() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("emt: crypto/rand unavailable: " + err.Error())
	}
	f := float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// fetchCaptcha retrieves a captcha challenge and returns the correlation
// number together with the solver's guess. A wrong guess is not retried
// here; it simply makes the subsequent login attempt fail.
func (c *Client) fetchCaptcha(ctx context.Context) (string, string, error) {
	randNum := randomCorrelation()
	cctx, cancel := context.WithTimeout(ctx, c.captchaTimeout)
	defer cancel()
	_, body, err := c.get(cctx, c.endpoints.resolve(TagCaptcha)+randNum)
	if err != nil {
		return "", "", fmt.Errorf("fetch captcha: %w", err)
	}
	code, err := c.solver.Solve(cctx, body)
	if err != nil {
		return "", "", fmt.Errorf("solve captcha: %w", err)
	}
	return randNum, code, nil
}

// fetchValidateKey loads the authenticated trade page and extracts the
// session token from its hidden input. An empty result means the login did
// not actually take.
func (c *Client) fetchValidateKey(ctx context.Context) (string, error) {
	_, body, err := c.get(ctx, c.endpoints.tradePage)
	if err != nil {
		return "", err
	}
	m := validateKeyRe.FindSubmatch(body)
	if m == nil {
		return "", nil
	}
	return strings.TrimSpace(string(m[1])), nil
}

// Login authenticates against the portal: captcha, credential submission,
// token extraction. It never retries internally; retry policy belongs to
// the caller.
func (c *Client) Login(ctx context.Context, identity, secret string) (string, error) {
	identity = strings.TrimSpace(identity)
	c.identity = identity
	c.secret = secret

	randNum, code, err := c.fetchCaptcha(ctx)
	if err != nil {
		return "", &LoginFailedError{Identity: identity, Err: err}
	}

	encrypted, err := c.encrypter.Encrypt(strings.TrimSpace(secret))
	if err != nil {
		return "", &LoginFailedError{Identity: identity, Err: fmt.Errorf("encrypt password: %w", err)}
	}

	form := url.Values{
		"userId":       {identity},
		"password":     {encrypted},
		"randNumber":   {randNum},
		"identifyCode": {code},
		"duration":     {strconv.Itoa(c.duration)},
		"authCode":     {""},
		"type":         {"Z"},
		"secInfo":      {""},
	}
	extra := http.Header{}
	extra.Set("X-Requested-With", "XMLHttpRequest")
	extra.Set("Referer", c.endpoints.loginPage)

	if _, _, err := c.postForm(ctx, c.endpoints.resolve(TagLogin), form, extra); err != nil {
		var apiErr *APIError
		var httpErr *HTTPError
		if errors.As(err, &apiErr) || errors.As(err, &httpErr) {
			return "", err
		}
		return "", &LoginFailedError{Identity: identity, Err: err}
	}

	key, err := c.fetchValidateKey(ctx)
	if err != nil {
		return "", &LoginFailedError{Identity: identity, Err: err}
	}
	if key == "" {
		return "", &LoginFailedError{Identity: identity}
	}
	c.validateKey = key
	return key, nil
}

// Reauthenticate clears the stale token and re-runs the login flow with the
// credentials the client was last armed with.
func (c *Client) Reauthenticate(ctx context.Context) (string, error) {
	c.validateKey = ""
	if c.identity == "" {
		return "", &LoginFailedError{Identity: "", Err: errors.New("no credentials held for re-login")}
	}
	return c.Login(ctx, c.identity, c.secret)
}

// request is the primitive: resolve the tag, append the token, POST the
// form, classify. No expiry recovery here.
func (c *Client) request(ctx context.Context, tag Tag, data url.Values) ([]byte, error) {
	if c.validateKey == "" {
		if c.identity == "" {
			return nil, &LoginFailedError{Err: errors.New("no credentials held for lazy login")}
		}
		if _, err := c.Login(ctx, c.identity, c.secret); err != nil {
			return nil, err
		}
	}
	reqURL := c.endpoints.resolve(tag) + c.validateKey
	if data == nil {
		data = url.Values{"qqhs": {"100"}, "dwc": {""}}
	}
	extra := http.Header{}
	extra.Set("X-Requested-With", "XMLHttpRequest")
	_, body, err := c.postForm(ctx, reqURL, data, extra)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// requestWithRetry recovers exactly one class of transient failure, token
// staleness: one re-login, one retry. A second expiry propagates. Other
// error kinds are never masked here.
func (c *Client) requestWithRetry(ctx context.Context, tag Tag, data url.Values) ([]byte, error) {
	body, err := c.request(ctx, tag, data)
	if !errors.Is(err, ErrSessionExpired) {
		return body, err
	}
	if _, err := c.Reauthenticate(ctx); err != nil {
		return nil, err
	}
	return c.request(ctx, tag, data)
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *Client) QueryAssetAndPosition(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.requestWithRetry(ctx, TagAssetAndPosition, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

func (c *Client) QueryOrders(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.requestWithRetry(ctx, TagOrders, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

func (c *Client) QueryTrades(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.requestWithRetry(ctx, TagTrades, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

func rangedPayload(size int, startDate, endDate string) url.Values {
	return url.Values{
		"qqhs": {strconv.Itoa(size)},
		"dwc":  {""},
		"st":   {startDate},
		"et":   {endDate},
	}
}

// QueryHistoryOrders lists historical orders between startDate and endDate,
// both formatted YYYY-MM-DD.
func (c *Client) QueryHistoryOrders(ctx context.Context, size int, startDate, endDate string) (map[string]interface{}, error) {
	body, err := c.requestWithRetry(ctx, TagHistoryOrders, rangedPayload(size, startDate, endDate))
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

func (c *Client) QueryHistoryTrades(ctx context.Context, size int, startDate, endDate string) (map[string]interface{}, error) {
	body, err := c.requestWithRetry(ctx, TagHistoryTrades, rangedPayload(size, startDate, endDate))
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

func (c *Client) QueryFundsFlow(ctx context.Context, size int, startDate, endDate string) (map[string]interface{}, error) {
	body, err := c.requestWithRetry(ctx, TagFundsFlow, rangedPayload(size, startDate, endDate))
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

func (c *Client) CreateOrder(ctx context.Context, order domain.OrderRequest) (map[string]interface{}, error) {
	form := url.Values{
		"stockCode": {order.StockCode},
		"tradeType": {string(order.Side)},
		"zqmc":      {""},
		"market":    {order.Market},
		"price":     {strconv.FormatFloat(order.Price, 'f', -1, 64)},
		"amount":    {strconv.Itoa(order.Amount)},
	}
	body, err := c.requestWithRetry(ctx, TagCreateOrder, form)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

// CancelOrder revokes an order by its "<date>_<orderno>" reference. The
// portal answers in plain text beginning with the order number on success.
func (c *Client) CancelOrder(ctx context.Context, orderRef string) (string, error) {
	form := url.Values{"revokes": {strings.TrimSpace(orderRef)}}
	body, err := c.requestWithRetry(ctx, TagCancelOrder, form)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// GetLastPrice returns the snapshot price for a symbol, or NaN when the
// snapshot is missing, malformed or rejected. It never returns an error.
func (c *Client) GetLastPrice(ctx context.Context, symbolCode, market string) float64 {
	q := url.Values{"id": {strings.TrimSpace(symbolCode)}, "market": {market}}
	_, body, err := c.get(ctx, c.quoteURL+"/api/SHSZQuoteSnapshot?"+q.Encode())
	if err != nil {
		return math.NaN()
	}
	var snap struct {
		Status        *int              `json:"status"`
		RealtimeQuote map[string]string `json:"realtimequote"`
	}
	if err := json.Unmarshal(body, &snap); err != nil || snap.Status == nil || *snap.Status != 0 {
		return math.NaN()
	}
	return getFloat(snap.RealtimeQuote, "currentPrice")
}

// VerifySession issues a cheap authenticated probe. Any failure, including
// a missing token, reads as an invalid session.
func (c *Client) VerifySession(ctx context.Context) bool {
	if c.validateKey == "" {
		return false
	}
	_, err := c.request(ctx, TagAssetAndPosition, nil)
	return err == nil
}

/// Snapshot captures the serializable session state: identity, token and
// cookie jar contents. The secret is deliberately excluded.
func (c *Client) Snapshot() domain.SessionRecord {
	rec := domain.SessionRecord{
		Identity:    c.identity,
		ValidateKey: c.validateKey,
		SavedAt:     time.Now().UTC(),
	}
	if u, err := url.Parse(c.endpoints.base); err == nil {
		for _, ck := range c.jar.Cookies(u) {
			rec.Cookies = append(rec.Cookies, domain.Cookie{
				Name:  ck.Name,
				Value: ck.Value,
			})
		}
	}
	return rec
}

// Restore rehydrates a client from a persisted record. Credentials are not
// part of the record; callers that need re-login must arm them separately.
func (c *Client) Restore(rec domain.SessionRecord) error {
	u, err := url.Parse(c.endpoints.base)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(rec.Cookies))
	for _, ck := range rec.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Domain:  ck.Domain,
			Path:    ck.Path,
			Expires: ck.Expires,
			Secure:  ck.Secure,
		})
	}
	c.jar.SetCookies(u, cookies)
	c.identity = rec.Identity
	c.validateKey = rec.ValidateKey
	return nil
}

func getFloat(data map[string]string, key string) float64 {
	v := strings.TrimSpace(data[key])
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
