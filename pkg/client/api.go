package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// Endpoint names
const (
	EndpointTags            = "get_tagnames"
	EndpointTagValues       = "get_tag_values"
	EndpointMultiTagValues  = "get_multiple_tag_values"
	EndpointPanelData       = "get_panel_data"
	EndpointPlants          = "get_plants"
	EndpointTemplateManager = "template_manager"
	EndpointAuth            = "auth-for-trend"
	EndpointTestConnection  = "test_connection"
)

// DefaultRangeDays is the date range used when a call leaves both dates empty
const DefaultRangeDays = 7

const dateLayout = "2006-01-02"

// DateRange fills empty dates: to defaults to today and from to DefaultRangeDays before to.
func (c *Client) DateRange(from, to string) (string, string) {
	to = strings.TrimSpace(to)
	from = strings.TrimSpace(from)
	if to == "" {
		to = c.now().Format(dateLayout)
	}
	if from == "" {
		end, err := time.ParseInLocation(dateLayout, to, time.Local)
		if err != nil {
			end = c.now()
		}
		from = end.AddDate(0, 0, -DefaultRangeDays).Format(dateLayout)
	}
	return from, to
}

// get performs a GET. A body with usable data is returned whatever its success flag says;
// without data, an explicit success:false becomes an AppError.
func (c *Client) get(ctx context.Context, endpoint string, params map[string]any, found func(any) bool) (any, error) {
	res := c.Request(ctx, endpoint, params, http.MethodGet, nil)
	if err := res.Err(); err != nil {
		return nil, err
	}
	if found(res.Data) {
		return res.Data, nil
	}
	if failed, msg := normalize.Failed(res.Data); failed {
		return res.Data, newAppError(endpoint, msg, "")
	}
	return res.Data, nil
}

// getList performs a GET for a list body. Any list location counts as data; an object body
// without one is an AppError unless it reports success.
func (c *Client) getList(ctx context.Context, endpoint string) (any, error) {
	res := c.Request(ctx, endpoint, nil, http.MethodGet, nil)
	if err := res.Err(); err != nil {
		return nil, err
	}
	list := normalize.List(res.Data)
	if list.Found() {
		return res.Data, nil
	}
	if _, isObj := res.Data.(map[string]any); isObj {
		if ok, msg := normalize.Envelope(res.Data); !ok {
			return res.Data, newAppError(endpoint, msg, list.Message)
		}
	}
	return res.Data, nil
}

// Tags returns the tag catalog
func (c *Client) Tags(ctx context.Context) ([]types.Tag, error) {
	body, err := c.getList(ctx, EndpointTags)
	if err != nil {
		return nil, err
	}
	return normalize.Tags(body), nil
}

// TagValues returns the samples of one tag between two YYYY-MM-DD dates
func (c *Client) TagValues(ctx context.Context, tag, from, to string) (types.Series, error) {
	from, to = c.DateRange(from, to)
	body, err := c.get(ctx, EndpointTagValues, map[string]any{
		"tagname":    tag,
		"start_date": from,
		"end_date":   to,
	}, func(body any) bool { return tagSeries(body).Len() > 0 })
	if err != nil {
		return types.Series{Tag: tag, Samples: []types.Sample{}}, err
	}

	s := tagSeries(body)
	s.Tag = tag
	return s, nil
}

func tagSeries(body any) types.Series {
	raw := body
	if obj, ok := body.(map[string]any); ok {
		raw = obj["data"]
	}
	return normalize.Series(raw)
}

// MultiTagValues returns the series of several tags. Every requested tag is present in the
// result; the data of a success:false body is still used.
func (c *Client) MultiTagValues(ctx context.Context, tags []string, from, to string) (normalize.SeriesResult, error) {
	from, to = c.DateRange(from, to)
	res := c.Request(ctx, EndpointMultiTagValues, map[string]any{
		"tagnames":   strings.Join(tags, ","),
		"start_date": from,
		"end_date":   to,
	}, http.MethodGet, nil)
	if err := res.Err(); err != nil {
		return normalize.KeyedSeries(nil, tags), err
	}
	return normalize.KeyedSeries(res.Data, tags), nil
}

// Plants returns the known plant names
func (c *Client) Plants(ctx context.Context) ([]string, error) {
	body, err := c.getList(ctx, EndpointPlants)
	if err != nil {
		return nil, err
	}
	return normalize.Plants(body), nil
}

// PanelData returns every tag of a plant with its limits and samples
func (c *Client) PanelData(ctx context.Context, plant, from, to string) ([]types.PanelTag, error) {
	from, to = c.DateRange(from, to)
	body, err := c.get(ctx, EndpointPanelData, map[string]any{
		"plant":      plant,
		"start_date": from,
		"end_date":   to,
	}, func(body any) bool { return len(normalize.Panel(body)) > 0 })
	if err != nil {
		return nil, err
	}
	return normalize.Panel(body), nil
}

// CheckSession returns the authenticated user. A backend without a session answers with an
// AppError.
func (c *Client) CheckSession(ctx context.Context) (*types.User, error) {
	res := c.Request(ctx, EndpointAuth, map[string]any{"action": "check_session"}, http.MethodGet, nil)
	if err := res.Err(); err != nil {
		return nil, err
	}
	ok, msg := normalize.Envelope(res.Data)
	obj, _ := res.Data.(map[string]any)
	if !ok || obj == nil {
		return nil, newAppError(EndpointAuth, msg, "not logged in")
	}

	row, _ := obj["user"].(map[string]any)
	if row == nil {
		return nil, newAppError(EndpointAuth, msg, "not logged in")
	}
	user := &types.User{
		Username: strings.TrimSpace(normalize.String(row["username"])),
		Name:     normalize.String(row["name"]),
	}
	if user.Username == "" {
		return nil, newAppError(EndpointAuth, "", "not logged in")
	}
	return user, nil
}

// TestConnection checks that the backend and its database answer
func (c *Client) TestConnection(ctx context.Context) error {
	res := c.Request(ctx, EndpointTestConnection, nil, http.MethodGet, nil)
	if err := res.Err(); err != nil {
		return err
	}
	if ok, msg := normalize.Envelope(res.Data); !ok {
		return newAppError(EndpointTestConnection, msg, "connection test failed")
	}
	return nil
}
