package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bridgarr/models"
)

// AllDebridClient handles API interactions with AllDebrid.
// It implements the Provider interface.
type AllDebridClient struct {
	rest  *restClient
	agent string
}

var _ Provider = (*AllDebridClient)(nil)

// NewAllDebridClient creates a new AllDebrid API client.
func NewAllDebridClient(apiKey string) *AllDebridClient {
	token := strings.TrimSpace(apiKey)
	return &AllDebridClient{
		rest: newRESTClient("alldebrid", "https://api.alldebrid.com/v4", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}),
		agent: "bridgarr",
	}
}

// Name returns the provider identifier.
func (c *AllDebridClient) Name() string {
	return string(KindAllDebrid)
}

// allDebridResponse is the generic API response wrapper.
type allDebridResponse[T any] struct {
	Status string `json:"status"` // "success" or "error"
	Data   T      `json:"data,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// envelopeErr converts an error envelope into a *ProviderError.
func (c *AllDebridClient) envelopeErr(r *struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}) error {
	pe := &ProviderError{Provider: c.Name(), StatusCode: http.StatusOK, Message: "unknown error"}
	if r != nil {
		pe.Code = r.Code
		pe.Message = r.Message
	}
	return pe
}

type allDebridUser struct {
	User struct {
		Username     string `json:"username"`
		Email        string `json:"email"`
		IsPremium    bool   `json:"isPremium"`
		PremiumUntil int64  `json:"premiumUntil"`
	} `json:"user"`
}

// allDebridMagnet represents a magnet upload response.
type allDebridMagnet struct {
	Magnet string `json:"magnet,omitempty"`
	Name   string `json:"name,omitempty"`
	ID     int    `json:"id,omitempty"`
	Hash   string `json:"hash,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Ready  bool   `json:"ready,omitempty"`
}

type allDebridMagnetUploadData struct {
	Magnets []allDebridMagnet `json:"magnets"`
}

// allDebridStatus represents a magnet status entry.
type allDebridStatus struct {
	ID         int                 `json:"id"`
	Filename   string              `json:"filename"`
	Size       int64               `json:"size"`
	Hash       string              `json:"hash,omitempty"`
	Status     string              `json:"status"`
	StatusCode int                 `json:"statusCode"`
	Downloaded int64               `json:"downloaded"`
	Seeders    int                 `json:"seeders"`
	Links      []allDebridLink     `json:"links,omitempty"`
	Files      []allDebridFileNode `json:"files,omitempty"` // v4.1 nested file tree
}

// allDebridLink represents a file link in a status response (v4 format).
type allDebridLink struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// allDebridFileNode represents a file or directory in the v4.1 nested tree.
type allDebridFileNode struct {
	N string              `json:"n"`           // name
	S int64               `json:"s,omitempty"` // size (for files)
	L string              `json:"l,omitempty"` // link (for files)
	E []allDebridFileNode `json:"e,omitempty"` // entries (for directories)
}

// allDebridStatusData wraps status responses - RawMessage because the API
// returns an object when queried by ID and an array otherwise.
type allDebridStatusData struct {
	Magnets json.RawMessage `json:"magnets"`
}

// allDebridUnlock represents an unlocked link response.
type allDebridUnlock struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	ID       string `json:"id,omitempty"`
	Delayed  int    `json:"delayed,omitempty"`
}

// AllDebrid status codes
const (
	allDebridStatusInQueue             = 0
	allDebridStatusDownloading         = 1
	allDebridStatusCompressingMoving   = 2
	allDebridStatusUploading           = 3
	allDebridStatusReady               = 4
	allDebridStatusUploadFail          = 5
	allDebridStatusInternalErrorUnpack = 6
	allDebridStatusNotDownloaded20Min  = 7
	allDebridStatusFileTooBig          = 8
	allDebridStatusInternalError       = 9
	allDebridStatusDownloadTook72h     = 10
	allDebridStatusDeletedOnHoster     = 11
)

// GetAccountInfo returns account details for the configured token.
func (c *AllDebridClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	query := url.Values{}
	query.Set("agent", c.agent)

	var result allDebridResponse[allDebridUser]
	if err := c.rest.getJSON(ctx, "/user", query, &result); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if result.Status != "success" {
		return nil, c.envelopeErr(result.Error)
	}
	return &AccountInfo{
		Username: result.Data.User.Username,
		Email:    result.Data.User.Email,
		Premium:  result.Data.User.IsPremium,
	}, nil
}

// ValidateToken checks the token and requires an active premium account.
func (c *AllDebridClient) ValidateToken(ctx context.Context) error {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return err
	}
	if !info.Premium {
		return &ProviderError{Provider: c.Name(), StatusCode: http.StatusForbidden, Message: "account is not premium"}
	}
	return nil
}

// AddMagnet adds a magnet link to AllDebrid and returns the torrent ID.
func (c *AllDebridClient) AddMagnet(ctx context.Context, magnetURL string) (*AddMagnetResult, error) {
	trimmed := strings.TrimSpace(magnetURL)
	if trimmed == "" {
		return nil, fmt.Errorf("magnet URL is required")
	}

	form := url.Values{}
	form.Set("agent", c.agent)
	form.Set("magnets[]", trimmed)

	var result allDebridResponse[allDebridMagnetUploadData]
	if err := c.rest.postForm(ctx, "/magnet/upload", form, &result); err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}
	if result.Status != "success" {
		return nil, c.envelopeErr(result.Error)
	}
	if len(result.Data.Magnets) == 0 {
		return nil, fmt.Errorf("no magnet data returned")
	}

	magnet := result.Data.Magnets[0]
	log.Printf("[alldebrid] magnet added: id=%d hash=%s name=%s ready=%v", magnet.ID, magnet.Hash, magnet.Name, magnet.Ready)

	return &AddMagnetResult{
		ID:   strconv.Itoa(magnet.ID),
		Hash: strings.ToLower(magnet.Hash),
		Name: magnet.Name,
	}, nil
}

// GetTorrentInfo retrieves a snapshot of a torrent by ID.
func (c *AllDebridClient) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentSnapshot, error) {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return nil, fmt.Errorf("torrent ID is required")
	}

	query := url.Values{}
	query.Set("agent", c.agent)
	query.Set("id", trimmedID)

	var result allDebridResponse[allDebridStatusData]
	if err := c.rest.getJSON(ctx, "/magnet/status", query, &result); err != nil {
		return nil, fmt.Errorf("get torrent info: %w", err)
	}
	if result.Status != "success" {
		return nil, c.envelopeErr(result.Error)
	}

	statuses, err := decodeAllDebridMagnets(result.Data.Magnets)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("torrent not found")
	}

	snap := c.toSnapshot(&statuses[0])
	return &snap, nil
}

// decodeAllDebridMagnets handles both the single-object and array shapes of
// the magnets field.
func decodeAllDebridMagnets(raw json.RawMessage) ([]allDebridStatus, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '{' {
		var one allDebridStatus
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode magnet: %w", err)
		}
		return []allDebridStatus{one}, nil
	}
	var many []allDebridStatus
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("decode magnets array: %w", err)
	}
	return many, nil
}

func (c *AllDebridClient) toSnapshot(status *allDebridStatus) TorrentSnapshot {
	snap := TorrentSnapshot{
		ID:        strconv.Itoa(status.ID),
		Name:      status.Filename,
		Hash:      strings.ToLower(status.Hash),
		Bytes:     status.Size,
		Status:    c.NormalizeStatus(strconv.Itoa(status.StatusCode)),
		RawStatus: strconv.Itoa(status.StatusCode),
	}
	if status.Size > 0 {
		snap.Progress = int(status.Downloaded * 100 / status.Size)
	}
	if snap.Status == models.TorrentStatusReady {
		snap.Progress = 100
	}

	if len(status.Files) > 0 {
		c.flattenFileTree(status.Files, "", &snap)
	} else {
		for i, link := range status.Links {
			snap.Files = append(snap.Files, TorrentFile{
				ID:       strconv.Itoa(i + 1),
				Path:     link.Filename,
				Bytes:    link.Size,
				Link:     link.Link,
				Selected: true,
			})
			snap.Links = append(snap.Links, link.Link)
		}
	}
	return snap
}

// flattenFileTree recursively flattens the nested v4.1 file tree into the
// snapshot's Files and Links slices.
func (c *AllDebridClient) flattenFileTree(nodes []allDebridFileNode, basePath string, snap *TorrentSnapshot) {
	for _, node := range nodes {
		path := node.N
		if basePath != "" {
			path = basePath + "/" + node.N
		}

		if len(node.E) > 0 {
			c.flattenFileTree(node.E, path, snap)
		} else if node.L != "" {
			snap.Files = append(snap.Files, TorrentFile{
				ID:       strconv.Itoa(len(snap.Files) + 1),
				Path:     path,
				Bytes:    node.S,
				Link:     node.L,
				Selected: true,
			})
			snap.Links = append(snap.Links, node.L)
		}
	}
}

// SelectFiles is a no-op for AllDebrid since files are auto-processed.
func (c *AllDebridClient) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	log.Printf("[alldebrid] SelectFiles called for torrent %s (no-op, AllDebrid auto-processes)", torrentID)
	return nil
}

// UnrestrictLink converts an AllDebrid link to an actual download URL.
func (c *AllDebridClient) UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, fmt.Errorf("link is required")
	}

	form := url.Values{}
	form.Set("agent", c.agent)
	form.Set("link", trimmed)

	var result allDebridResponse[allDebridUnlock]
	if err := c.rest.postForm(ctx, "/link/unlock", form, &result); err != nil {
		return nil, fmt.Errorf("unrestrict link: %w", err)
	}
	if result.Status != "success" {
		return nil, c.envelopeErr(result.Error)
	}
	if result.Data.Delayed > 0 {
		return nil, fmt.Errorf("link is being processed, try again in %d seconds", result.Data.Delayed)
	}

	return &UnrestrictResult{
		ID:          result.Data.ID,
		Filename:    result.Data.Filename,
		Filesize:    result.Data.Filesize,
		DownloadURL: result.Data.Link,
	}, nil
}

// DeleteTorrent removes a torrent from AllDebrid.
func (c *AllDebridClient) DeleteTorrent(ctx context.Context, torrentID string) error {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return fmt.Errorf("torrent ID is required")
	}

	form := url.Values{}
	form.Set("agent", c.agent)
	form.Set("id", trimmedID)

	var result allDebridResponse[any]
	if err := c.rest.postForm(ctx, "/magnet/delete", form, &result); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	if result.Status != "success" {
		return c.envelopeErr(result.Error)
	}

	log.Printf("[alldebrid] torrent %s deleted", trimmedID)
	return nil
}

// ListTorrents returns snapshots of torrents on the account, at most limit
// entries. AllDebrid's status endpoint does not page, so the list is truncated
// locally.
func (c *AllDebridClient) ListTorrents(ctx context.Context, limit int) ([]TorrentSnapshot, error) {
	query := url.Values{}
	query.Set("agent", c.agent)

	var result allDebridResponse[allDebridStatusData]
	if err := c.rest.getJSON(ctx, "/magnet/status", query, &result); err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}
	if result.Status != "success" {
		return nil, c.envelopeErr(result.Error)
	}

	statuses, err := decodeAllDebridMagnets(result.Data.Magnets)
	if err != nil {
		return nil, err
	}
	snaps := make([]TorrentSnapshot, 0, len(statuses))
	for i := range statuses {
		snaps = append(snaps, c.toSnapshot(&statuses[i]))
	}
	return limitSnapshots(snaps, limit), nil
}

// NormalizeStatus maps AllDebrid numeric status codes onto the shared
// vocabulary. Raw is the code rendered as a string.
func (c *AllDebridClient) NormalizeStatus(raw string) models.TorrentStatus {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return models.TorrentStatusError
	}
	switch code {
	case allDebridStatusInQueue:
		return models.TorrentStatusQueued
	case allDebridStatusDownloading:
		return models.TorrentStatusDownloading
	case allDebridStatusCompressingMoving, allDebridStatusUploading:
		return models.TorrentStatusProcessing
	case allDebridStatusReady:
		return models.TorrentStatusReady
	case allDebridStatusInternalErrorUnpack:
		return models.TorrentStatusExpired
	case allDebridStatusUploadFail, allDebridStatusNotDownloaded20Min,
		allDebridStatusFileTooBig, allDebridStatusInternalError,
		allDebridStatusDownloadTook72h:
		return models.TorrentStatusError
	case allDebridStatusDeletedOnHoster:
		return models.TorrentStatusDead
	default:
		return models.TorrentStatusError
	}
}
