package steam

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	accessDeniedPattern = "Access Denied"
)

var (
	keyRegExp = regexp.MustCompile(`Key: ([0-9A-F]+)`)
)

func (c *Client) GetWebAPIKey(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.community("/dev/apikey?l=english"), nil, "")
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return "", err
	}

	return c.parseKey(resp)
}

func (c *Client) parseKey(resp *http.Response) (string, error) {
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	if strings.Contains(doc.Find("h2").Text(), accessDeniedPattern) {
		return "", ApiAccessDeniedError
	}

	var key string
	doc.Find("#bodyContents_ex p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := keyRegExp.FindStringSubmatch(s.Text()); len(m) == 2 {
			key = m[1]
			return false
		}
		return true
	})
	if key == "" {
		return "", ApiKeyNotFoundError
	}

	c.SetAPIKey(key)
	return key, nil
}

// apiCall performs a Web API request and decodes the JSON body into out.
func (c *Client) apiCall(ctx context.Context, method, iface, name, version string, params url.Values, out interface{}) error {
	key := c.APIKey()
	if key == "" {
		return ErrNoAPIKey
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", key)

	uri := c.api("/" + iface + "/" + name + "/" + version + "/")
	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = c.newRequest(ctx, method, uri+"?"+params.Encode(), nil, "")
	} else {
		req, err = c.newRequest(ctx, method, uri, params, "")
	}
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	eresult, hasResult := eresultFromHeader(resp.Header)
	if hasResult && eresult == EResultFail && hasContent(body) {
		// Steam sometimes reports Fail on calls that did succeed
		eresult = EResultOK
	}
	if hasResult && eresult != EResultOK {
		return &APIError{Status: resp.StatusCode, EResult: eresult}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return ErrMalformedResponse
	}
	return nil
}

// hasContent reports whether body is an object with more than one key, or a
// "response" object that is not empty.
func hasContent(body []byte) bool {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return false
	}
	if len(top) > 1 {
		return true
	}
	inner, ok := top["response"]
	if !ok {
		return false
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(inner, &resp); err != nil {
		return false
	}
	return len(resp) > 0
}
