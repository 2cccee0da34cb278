package oncall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	incidents "incident-cloud/internal/incidents/domain"
)

const defaultTimeout = 5 * time.Second

// Client reads the on-call roster over HTTP.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient constructs a roster client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("oncall: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rosterEntry struct {
	EmployeeID employeeID  `json:"employee_id"`
	Login      string      `json:"login"`
	Name       string      `json:"name"`
	Role       string      `json:"role"`
	Email      string      `json:"email"`
	Phone      string      `json:"phone"`
	Tier       int         `json:"tier"`
	IsLoggedIn bool        `json:"is_logged_in"`
}

// employeeID accepts both numeric and string ids.
type employeeID string

func (id *employeeID) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*id = employeeID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("oncall: employee_id: %w", err)
	}
	*id = employeeID(number.String())
	return nil
}

func (e rosterEntry) employee() incidents.Employee {
	return incidents.Employee{
		ID:    string(e.EmployeeID),
		Name:  e.Name,
		Role:  strings.ToUpper(e.Role),
		Email: e.Email,
		Phone: e.Phone,
	}
}

// OnCall lists logged-in employees for role ordered by tier. A roster with
// nobody on shift answers 404, which is reported as an empty list.
func (c *Client) OnCall(ctx context.Context, role string) ([]incidents.Employee, error) {
	if strings.TrimSpace(role) == "" {
		return nil, errors.New("oncall: empty role")
	}
	var entries []rosterEntry
	err := c.doJSON(ctx, "/oncall/current?role="+url.QueryEscape(role), &entries)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toEmployees(entries, false), nil
}

// LoggedIn lists every employee currently logged in, whatever their role.
func (c *Client) LoggedIn(ctx context.Context) ([]incidents.Employee, error) {
	var entries []rosterEntry
	if err := c.doJSON(ctx, "/oncall/schedules", &entries); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toEmployees(entries, true), nil
}

func toEmployees(entries []rosterEntry, loggedInOnly bool) []incidents.Employee {
	result := make([]incidents.Employee, 0, len(entries))
	for _, entry := range entries {
		if loggedInOnly && !entry.IsLoggedIn {
			continue
		}
		if entry.EmployeeID == "" {
			continue
		}
		result = append(result, entry.employee())
	}
	return result
}

var errNotFound = errors.New("oncall: not found")

func (c *Client) doJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("oncall: http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
