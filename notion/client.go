// Package notion is a small client for the Notion REST API covering the
// database and page calls needed to file tasks.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	// APIVersion is sent as the Notion-Version header on every request.
	APIVersion = "2022-06-28"
	// DefaultRequestsPerSecond matches Notion's documented average rate limit.
	DefaultRequestsPerSecond = 3

	defaultTimeout  = 30 * time.Second
	maxResponseSize = 4 << 20
)

// Config holds the connection settings of a Client.
type Config struct {
	Token             string
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	// TaskDatabaseID is where CreateTask files pages.
	TaskDatabaseID string
	// ProjectDatabaseID, when set, lets CreateTask resolve project names into relations.
	ProjectDatabaseID string
	Properties        PropertyMap
}

// Client talks to one Notion workspace. It is safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	taskDatabaseID    string
	projectDatabaseID string
	properties        PropertyMap
	schemas           *schemaCache
}

func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("new notion client: token is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}

	return &Client{
		token:             token,
		baseURL:           strings.TrimRight(baseURL, "/"),
		httpClient:        httpClient,
		limiter:           rate.NewLimiter(rate.Limit(rps), 1),
		taskDatabaseID:    strings.TrimSpace(cfg.TaskDatabaseID),
		projectDatabaseID: strings.TrimSpace(cfg.ProjectDatabaseID),
		properties:        cfg.Properties.withDefaults(),
		schemas:           newSchemaCache(),
	}, nil
}

func (c *Client) TaskDatabaseID() string {
	return c.taskDatabaseID
}

func (c *Client) ProjectDatabaseID() string {
	return c.projectDatabaseID
}

// RetrieveDatabase fetches a database object including its property schema.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (Database, error) {
	if strings.TrimSpace(databaseID) == "" {
		return Database{}, fmt.Errorf("%w: database id", ErrMissingID)
	}
	var out Database
	if err := c.do(ctx, http.MethodGet, "/databases/"+databaseID, nil, &out); err != nil {
		return Database{}, fmt.Errorf("retrieve database %s: %w", databaseID, err)
	}
	return out, nil
}

// QueryDatabase runs one page of a database query.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, query Query) (QueryResult, error) {
	if strings.TrimSpace(databaseID) == "" {
		return QueryResult{}, fmt.Errorf("%w: database id", ErrMissingID)
	}
	var out QueryResult
	if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", query, &out); err != nil {
		return QueryResult{}, fmt.Errorf("query database %s: %w", databaseID, err)
	}
	return out, nil
}

// CreatePage creates a page under a database parent.
func (c *Client) CreatePage(ctx context.Context, request CreatePageRequest) (Page, error) {
	if strings.TrimSpace(request.Parent.DatabaseID) == "" {
		return Page{}, fmt.Errorf("%w: parent database id", ErrMissingID)
	}
	var out Page
	if err := c.do(ctx, http.MethodPost, "/pages", request, &out); err != nil {
		return Page{}, fmt.Errorf("create page: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("request encode: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request build: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Notion-Version", APIVersion)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request execute: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("response read: %w", err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(response.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("response decode: %w", err)
	}
	return nil
}
