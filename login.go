package steam

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type LoginResponse struct {
	Success      bool   `json:"success"`
	PublicKeyMod string `json:"publickey_mod"`
	PublicKeyExp string `json:"publickey_exp"`
	Timestamp    string `json:"timestamp"`
	TokenGID     string `json:"token_gid"`
}

type LoginSession struct {
	Success           bool   `json:"success"`
	LoginComplete     bool   `json:"login_complete"`
	RequiresTwoFactor bool   `json:"requires_twofactor"`
	Message           string `json:"message"`
	RedirectURI       string `json:"redirect_uri"`
	OAuth             OAuth  `json:"transfer_parameters"`
}

type OAuth struct {
	ID          string  `json:"-"`
	DeviceID    string  `json:"-"`
	SteamID     SteamID `json:"steamid,string"`
	Auth        string  `json:"auth"`
	TokenSecure string  `json:"token_secure"`
	WebCookie   string  `json:"webcookie"`
}

func (c *Client) Login(ctx context.Context) error {
	if c.credentials == nil {
		return UsernameEmptyError
	}

	if err := c.setupCookie(ctx); err != nil {
		return err
	}

	response, err := c.makeLoginRequest(ctx, c.credentials.Username)
	if err != nil {
		return err
	}

	var twoFactorCode string
	if len(c.credentials.SharedSecret) != 0 {
		if twoFactorCode, err = GenerateTwoFactorCode(c.credentials.SharedSecret, c.getTimeDiff()); err != nil {
			return err
		}
	}

	return c.proceedDirectLogin(ctx, response, c.credentials.Username, c.credentials.Password, twoFactorCode)
}

func (c *Client) setupCookie(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.community("/login"), nil, "")
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	steamUrl, err := url.Parse(c.community("/"))
	if err != nil {
		return err
	}

	_, offset := time.Now().Zone()
	cookies := []*http.Cookie{
		{Name: "timezoneOffset", Value: fmt.Sprintf("%d,0", offset)},
		{Name: "Steam_Language", Value: c.language},
	}
	for _, cookie := range resp.Cookies() {
		cookies = append(cookies, &http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	c.client.Jar.SetCookies(steamUrl, cookies)
	return nil
}

func (c *Client) makeLoginRequest(ctx context.Context, accountName string) (*LoginResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.community("/login/getrsakey"), url.Values{
		"username":   {accountName},
		"donotcache": {strconv.FormatInt(time.Now().Unix()*1000, 10)},
	}, c.community("/login"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", c.community(""))
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	var response LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	if !response.Success {
		return nil, InvalidCredentialsError
	}

	return &response, nil
}

func (c *Client) proceedDirectLogin(ctx context.Context, response *LoginResponse, accountName, password, twoFactorCode string) error {
	var n big.Int
	if _, ok := n.SetString(response.PublicKeyMod, 16); !ok {
		return fmt.Errorf("bad rsa modulus %q", response.PublicKeyMod)
	}

	exp, err := strconv.ParseInt(response.PublicKeyExp, 16, 32)
	if err != nil {
		return err
	}

	pub := rsa.PublicKey{N: &n, E: int(exp)}
	rsaOut, err := rsa.EncryptPKCS1v15(rand.Reader, &pub, []byte(password))
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.community("/login/dologin"), url.Values{
		"captcha_text":      {""},
		"captchagid":        {"-1"},
		"emailauth":         {""},
		"emailsteamid":      {""},
		"username":          {accountName},
		"password":          {base64.StdEncoding.EncodeToString(rsaOut)},
		"remember_login":    {"true"},
		"rsatimestamp":      {response.Timestamp},
		"twofactorcode":     {twoFactorCode},
		"donotcache":        {strconv.FormatInt(time.Now().Unix()*1000, 10)},
		"loginfriendlyname": {""},
	}, c.community("/login"))
	if err != nil {
		return err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", c.community(""))
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	loginSession := &LoginSession{}
	if err := json.NewDecoder(resp.Body).Decode(loginSession); err != nil {
		return err
	}

	if !loginSession.Success {
		if loginSession.RequiresTwoFactor {
			return RequireTwoFactorError
		}

		return errors.New(loginSession.Message)
	}

	steamUrl, _ := url.Parse(c.community("/"))
	for _, cookie := range c.client.Jar.Cookies(steamUrl) {
		if cookie.Name == "sessionid" {
			loginSession.OAuth.ID = cookie.Value
			break
		}
	}

	if loginSession.OAuth.ID == "" {
		return InvalidSessionError
	}

	loginSession.OAuth.DeviceID = deviceID(accountName + password)

	c.mu.Lock()
	c.session = &loginSession.OAuth
	c.mu.Unlock()
	return nil
}

// deviceID derives a stable android device id from the account secret material.
func deviceID(seed string) string {
	sum := md5.Sum([]byte(seed))
	id := uuid.NewMD5(uuid.NameSpaceOID, sum[:])
	return "android:" + id.String()
}

func generateSessionID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
