package steam

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	baseUrl          = "https://steamcommunity.com"
	apiUrl           = "https://api.steampowered.com"
	defaultUseragent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/51.0.2704.103 Safari/537.36"

	LanguageEng = "english"
	LanguageRus = "russian"

	confirmationDelay = 1
)

type Client struct {
	client      *http.Client
	session     *OAuth
	useragent   string
	credentials *Credentials
	apiKey      string
	timeTip     int64
	language    string

	communityURL string
	apiURL       string

	ctx          context.Context
	cancel       context.CancelFunc
	requestQueue map[string]chan RequestItem
	workerOnce   sync.Once
	mu           sync.RWMutex
}

type Credentials struct {
	Username       string
	Password       string
	SharedSecret   string
	IdentitySecret string
}

// RequestItem is a queued request processed by a rate limited worker.
type RequestItem struct {
	Url          string
	Params       url.Values
	Values       map[string]interface{}
	ResponseChan chan RequestResponse
}

type RequestResponse struct {
	Error  error
	Body   []byte
	Status int
}

// NewClient creates a client. Credentials are only required for Login; a client
// restored through SetCookies and SetAPIKey may pass nil.
func NewClient(client *http.Client, useragent string, language string, credentials *Credentials) (*Client, error) {
	if client == nil {
		client = new(http.Client)
	}
	if useragent == "" {
		useragent = defaultUseragent
	}
	if language == "" {
		language = LanguageEng
	}

	if credentials != nil {
		if err := validateCredentials(credentials); err != nil {
			return nil, err
		}
	}

	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		client:       client,
		useragent:    useragent,
		credentials:  credentials,
		language:     language,
		communityURL: baseUrl,
		apiURL:       apiUrl,
		ctx:          ctx,
		cancel:       cancel,
		requestQueue: map[string]chan RequestItem{
			"confirmation": make(chan RequestItem),
		},
	}, nil
}

// SetEndpoints overrides the community and Web API base URLs.
func (c *Client) SetEndpoints(community, api string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if community != "" {
		c.communityURL = strings.TrimRight(community, "/")
	}
	if api != "" {
		c.apiURL = strings.TrimRight(api, "/")
	}
}

func (c *Client) community(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.communityURL + path
}

func (c *Client) api(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiURL + path
}

// Close stops the background request workers.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) startWorkers() {
	c.workerOnce.Do(func() {
		go c.confirmationReqWorker(confirmationDelay)
	})
}

func (c *Client) getTimeDiff() int64 {
	return time.Now().Unix() + c.timeTip
}

func (c *Client) GetSteamId() SteamID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil {
		return c.session.SteamID
	}
	return SteamID(0)
}

// SessionID returns the community sessionid cookie used for form posts.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil {
		return c.session.ID
	}
	return ""
}

func (c *Client) Language() string {
	return c.language
}

func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SetCookies restores a web session from "name=value" cookie strings. The
// steamLoginSecure cookie carries the SteamID and sessionid carries the form token.
func (c *Client) SetCookies(cookies []string) error {
	u, err := url.Parse(c.community("/"))
	if err != nil {
		return err
	}

	session := &OAuth{}
	parsed := make([]*http.Cookie, 0, len(cookies)+1)
	for _, raw := range cookies {
		name, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
		if !ok {
			continue
		}
		parsed = append(parsed, &http.Cookie{Name: name, Value: value})

		switch name {
		case "sessionid":
			session.ID = value
		case "steamLoginSecure":
			decoded, err := url.QueryUnescape(value)
			if err != nil {
				decoded = value
			}
			if idx := strings.Index(decoded, "||"); idx > 0 {
				if sid, err := ParseSteamID(decoded[:idx]); err == nil {
					session.SteamID = sid
				}
			}
		}
	}

	if session.ID == "" {
		session.ID = generateSessionID()
		parsed = append(parsed, &http.Cookie{Name: "sessionid", Value: session.ID})
	}
	if !session.SteamID.IsValid() {
		return InvalidSessionError
	}

	parsed = append(parsed, &http.Cookie{Name: "Steam_Language", Value: c.language})
	c.client.Jar.SetCookies(u, parsed)

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, uri string, body url.Values, referer string) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, uri, strings.NewReader(body.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, uri, nil)
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", c.useragent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}
