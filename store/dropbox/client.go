// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sketchroom/sketchroom/lib/netutil"
	"github.com/sketchroom/sketchroom/lib/secret"
	"github.com/sketchroom/sketchroom/store"
)

// Default API hosts.
const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"
	DefaultNotifyURL  = "https://notify.dropboxapi.com"
)

// The longpoll endpoint accepts timeouts from 30 to 480 seconds.
const (
	minPollTimeout = 30 * time.Second
	maxPollTimeout = 480 * time.Second
)

// Config holds configuration for creating a Client.
type Config struct {
	// APIURL, ContentURL and NotifyURL override the API hosts. Empty
	// means the public Dropbox hosts.
	APIURL     string
	ContentURL string
	NotifyURL  string

	// Token is the OAuth access token. Required. The Client reads it
	// per request and does not close it.
	Token *secret.Buffer

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is a store.Backend speaking the Dropbox API.
type Client struct {
	apiURL     string
	contentURL string
	notifyURL  string
	token      *secret.Buffer
	httpClient *http.Client
	logger     *slog.Logger
}

var _ store.Backend = (*Client)(nil)

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.Token == nil {
		return nil, errors.New("dropbox: Token is required")
	}
	hosts := []*string{&config.APIURL, &config.ContentURL, &config.NotifyURL}
	defaults := []string{DefaultAPIURL, DefaultContentURL, DefaultNotifyURL}
	for i, host := range hosts {
		if *host == "" {
			*host = defaults[i]
		}
		if _, err := url.Parse(*host); err != nil {
			return nil, fmt.Errorf("dropbox: invalid host URL %q: %w", *host, err)
		}
		*host = strings.TrimRight(*host, "/")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:     config.APIURL,
		contentURL: config.ContentURL,
		notifyURL:  config.NotifyURL,
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// metadata is the subset of file and folder metadata the client reads.
type metadata struct {
	Tag         string `json:".tag"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
	Rev         string `json:"rev"`
}

func (m metadata) path() string {
	if m.PathLower != "" {
		return m.PathLower
	}
	return m.PathDisplay
}

// uploadMode is the tagged union for files/upload "mode".
type uploadMode struct {
	tag      string
	revision string
}

func (m uploadMode) MarshalJSON() ([]byte, error) {
	if m.tag == "update" {
		return json.Marshal(map[string]string{".tag": "update", "update": m.revision})
	}
	return json.Marshal(m.tag)
}

// Upload implements store.Backend.
func (c *Client) Upload(ctx context.Context, objectPath string, data []byte, precondition store.Precondition) (string, error) {
	objectPath = store.Clean(objectPath)
	mode := uploadMode{tag: "add"}
	switch {
	case precondition.Overwrite:
		mode.tag = "overwrite"
	case precondition.Revision != "":
		mode = uploadMode{tag: "update", revision: precondition.Revision}
	}

	arg := map[string]any{
		"path":            objectPath,
		"mode":            mode,
		"autorename":      false,
		"mute":            true,
		"strict_conflict": true,
	}
	body, _, err := c.doContent(ctx, "/2/files/upload", arg, data)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", &store.ConflictError{Path: objectPath, Expected: precondition.Revision}
		}
		return "", fmt.Errorf("dropbox: upload %s: %w", objectPath, err)
	}
	var result metadata
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("dropbox: parsing upload response: %w", err)
	}
	return result.Rev, nil
}

// Download implements store.Backend.
func (c *Client) Download(ctx context.Context, objectPath string) (store.Object, error) {
	objectPath = store.Clean(objectPath)
	body, apiResult, err := c.doContent(ctx, "/2/files/download", map[string]string{"path": objectPath}, nil)
	if err != nil {
		return store.Object{}, fmt.Errorf("dropbox: download %s: %w", objectPath, err)
	}
	var result metadata
	if err := json.Unmarshal([]byte(apiResult), &result); err != nil {
		return store.Object{}, fmt.Errorf("dropbox: parsing Dropbox-API-Result: %w", err)
	}
	return store.Object{Data: body, Revision: result.Rev}, nil
}

// LatestCursor implements store.Backend.
func (c *Client) LatestCursor(ctx context.Context, folder string) (string, error) {
	folder = store.Clean(folder)
	request := map[string]any{
		"path":            folder,
		"recursive":       true,
		"include_deleted": true,
	}
	var response struct {
		Cursor string `json:"cursor"`
	}
	if err := c.doRPC(ctx, c.apiURL, "/2/files/list_folder/get_latest_cursor", true, request, &response); err != nil {
		return "", fmt.Errorf("dropbox: latest cursor for %s: %w", folder, err)
	}
	return response.Cursor, nil
}

// LongPoll implements store.Backend. The timeout is clamped to the
// range the endpoint accepts.
func (c *Client) LongPoll(ctx context.Context, cursor string, timeout time.Duration) (store.PollResult, error) {
	timeout = min(max(timeout, minPollTimeout), maxPollTimeout)
	request := map[string]any{
		"cursor":  cursor,
		"timeout": int(math.Ceil(timeout.Seconds())),
	}
	var response struct {
		Changes bool `json:"changes"`
		Backoff int  `json:"backoff"`
	}
	if err := c.doRPC(ctx, c.notifyURL, "/2/files/list_folder/longpoll", false, request, &response); err != nil {
		return store.PollResult{}, fmt.Errorf("dropbox: long poll: %w", err)
	}
	return store.PollResult{
		Changed: response.Changes,
		Backoff: time.Duration(response.Backoff) * time.Second,
	}, nil
}

// ListChanges implements store.Backend, following has_more until the
// cursor is caught up.
func (c *Client) ListChanges(ctx context.Context, cursor string) ([]store.Entry, string, error) {
	var entries []store.Entry
	for {
		var response struct {
			Entries []metadata `json:"entries"`
			Cursor  string     `json:"cursor"`
			HasMore bool       `json:"has_more"`
		}
		request := map[string]string{"cursor": cursor}
		if err := c.doRPC(ctx, c.apiURL, "/2/files/list_folder/continue", true, request, &response); err != nil {
			return nil, "", fmt.Errorf("dropbox: list changes: %w", err)
		}
		for _, entry := range response.Entries {
			kind := store.KindFile
			switch entry.Tag {
			case "folder":
				kind = store.KindFolder
			case "deleted":
				kind = store.KindDeleted
			}
			entries = append(entries, store.Entry{Kind: kind, Path: entry.path(), Revision: entry.Rev})
		}
		cursor = response.Cursor
		if !response.HasMore {
			return entries, cursor, nil
		}
	}
}

// CreateFolder implements store.Backend.
func (c *Client) CreateFolder(ctx context.Context, folder string) error {
	folder = store.Clean(folder)
	request := map[string]any{"path": folder, "autorename": false}
	if err := c.doRPC(ctx, c.apiURL, "/2/files/create_folder_v2", true, request, nil); err != nil {
		return fmt.Errorf("dropbox: create folder %s: %w", folder, err)
	}
	return nil
}

// ShareFolder implements store.Backend. Recipients are email
// addresses, added as editors.
func (c *Client) ShareFolder(ctx context.Context, folder string, recipients []string) error {
	folder = store.Clean(folder)
	var response struct {
		Tag            string `json:".tag"`
		SharedFolderID string `json:"shared_folder_id"`
	}
	request := map[string]any{"path": folder, "force_async": false}
	err := c.doRPC(ctx, c.apiURL, "/2/sharing/share_folder", true, request, &response)

	alreadyShared := false
	sharedFolderID := response.SharedFolderID
	var apiErr *APIError
	switch {
	case err == nil:
		if sharedFolderID == "" {
			return fmt.Errorf("dropbox: share %s: asynchronous share job not supported (%s)", folder, response.Tag)
		}
	case errors.As(err, &apiErr) && errors.Is(apiErr, store.ErrAlreadyShared):
		alreadyShared = true
		sharedFolderID = apiErr.sharedFolderID()
		if sharedFolderID == "" {
			return fmt.Errorf("dropbox: share %s: %w", folder, err)
		}
	default:
		return fmt.Errorf("dropbox: share %s: %w", folder, err)
	}

	if len(recipients) > 0 {
		if err := c.addMembers(ctx, sharedFolderID, recipients); err != nil {
			return fmt.Errorf("dropbox: share %s: %w", folder, err)
		}
	}
	c.logger.Info("shared dropbox folder",
		"folder", folder,
		"shared_folder_id", sharedFolderID,
		"recipients", len(recipients),
	)
	if alreadyShared {
		return fmt.Errorf("dropbox: share %s: %w", folder, store.ErrAlreadyShared)
	}
	return nil
}

func (c *Client) addMembers(ctx context.Context, sharedFolderID string, recipients []string) error {
	type member struct {
		Member      map[string]string `json:"member"`
		AccessLevel map[string]string `json:"access_level"`
	}
	members := make([]member, len(recipients))
	for i, recipient := range recipients {
		members[i] = member{
			Member:      map[string]string{".tag": "email", "email": recipient},
			AccessLevel: map[string]string{".tag": "editor"},
		}
	}
	request := map[string]any{
		"shared_folder_id": sharedFolderID,
		"members":          members,
		"quiet":            true,
	}
	return c.doRPC(ctx, c.apiURL, "/2/sharing/add_folder_member", true, request, nil)
}

// doRPC performs an RPC-style request: JSON argument in the body,
// JSON result in the response. A nil response discards the result.
func (c *Client) doRPC(ctx context.Context, host, endpoint string, authenticated bool, requestBody, response any) error {
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("dropbox: failed to encode request body: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, host+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("dropbox: failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if authenticated {
		request.Header.Set("Authorization", "Bearer "+c.token.String())
	}

	body, _, err := c.do(request, endpoint)
	if err != nil {
		return err
	}
	if response == nil {
		return nil
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("dropbox: failed to parse %s response: %w", endpoint, err)
	}
	return nil
}

// doContent performs a content-style request: JSON argument in the
// Dropbox-API-Arg header, raw bytes in the bodies. Returns the
// response body and the Dropbox-API-Result header.
func (c *Client) doContent(ctx context.Context, endpoint string, arg any, data []byte) ([]byte, string, error) {
	encodedArg, err := json.Marshal(arg)
	if err != nil {
		return nil, "", fmt.Errorf("dropbox: failed to encode API arg: %w", err)
	}
	var bodyReader io.Reader
	if data != nil {
		bodyReader = bytes.NewReader(data)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+endpoint, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("dropbox: failed to create request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token.String())
	request.Header.Set("Dropbox-API-Arg", string(encodedArg))
	if data != nil {
		request.Header.Set("Content-Type", "application/octet-stream")
	}
	return c.do(request, endpoint)
}

func (c *Client) do(request *http.Request, endpoint string) ([]byte, string, error) {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("dropbox: request to %s failed: %w", endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		body, err := netutil.ReadResponse(response.Body)
		if err != nil {
			return nil, "", fmt.Errorf("dropbox: failed to read response body: %w", err)
		}
		return body, response.Header.Get("Dropbox-API-Result"), nil
	}

	errorBody := netutil.ErrorBody(response.Body)
	var apiErr APIError
	if json.Unmarshal([]byte(errorBody), &apiErr) != nil || apiErr.Summary == "" {
		return nil, "", fmt.Errorf("dropbox: unexpected %d response from %s: %s",
			response.StatusCode, endpoint, errorBody)
	}
	apiErr.StatusCode = response.StatusCode
	c.logger.Debug("dropbox api error", "endpoint", endpoint, "summary", apiErr.Summary, "status", apiErr.StatusCode)
	return nil, "", &apiErr
}
