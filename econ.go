package steam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// MaxClassInfoPerRequest bounds the class_count of a single GetAssetClassInfo call.
const MaxClassInfoPerRequest = 100

var classKeyExp = regexp.MustCompile(`^\d+(_\d+)?$`)

// ClassInstance identifies an item description.
type ClassInstance struct {
	ClassID    uint64
	InstanceID uint64
}

// GetAssetClassInfo fetches descriptions for up to MaxClassInfoPerRequest
// classes of one app.
func (c *Client) GetAssetClassInfo(ctx context.Context, appID uint32, classes []ClassInstance, language string) (map[ClassInstance]*EconItemDesc, error) {
	if language == "" {
		language = c.language
	}

	params := url.Values{
		"appid":       {strconv.FormatUint(uint64(appID), 10)},
		"language":    {language},
		"class_count": {strconv.Itoa(len(classes))},
	}
	for i, class := range classes {
		params.Set("classid"+strconv.Itoa(i), strconv.FormatUint(class.ClassID, 10))
		params.Set("instanceid"+strconv.Itoa(i), strconv.FormatUint(class.InstanceID, 10))
	}

	var response struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := c.apiCall(ctx, http.MethodGet, "ISteamEconomy", "GetAssetClassInfo", "v1", params, &response); err != nil {
		return nil, err
	}
	if response.Result == nil {
		return nil, ErrMalformedResponse
	}

	var success FlexBool
	if raw, ok := response.Result["success"]; !ok || json.Unmarshal(raw, &success) != nil || !bool(success) {
		return nil, ErrNoSuccess
	}

	out := make(map[ClassInstance]*EconItemDesc, len(classes))
	for key, raw := range response.Result {
		if !classKeyExp.MatchString(key) {
			continue
		}

		desc := &EconItemDesc{}
		if err := json.Unmarshal(raw, desc); err != nil {
			return nil, ErrMalformedResponse
		}
		desc.AppID = appID

		class, instance, _ := strings.Cut(key, "_")
		ci := ClassInstance{}
		ci.ClassID, _ = strconv.ParseUint(class, 10, 64)
		if instance != "" {
			ci.InstanceID, _ = strconv.ParseUint(instance, 10, 64)
		} else {
			ci.InstanceID = uint64(desc.InstanceID)
		}
		out[ci] = desc
	}

	return out, nil
}
