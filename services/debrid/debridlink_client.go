package debrid

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bridgarr/models"
)

// DebridLinkClient handles API interactions with Debrid-Link.fr.
// It implements the Provider interface.
type DebridLinkClient struct {
	rest *restClient
}

var _ Provider = (*DebridLinkClient)(nil)

// NewDebridLinkClient creates a new Debrid-Link API client.
func NewDebridLinkClient(apiKey string) *DebridLinkClient {
	token := strings.TrimSpace(apiKey)
	return &DebridLinkClient{
		rest: newRESTClient("debridlink", "https://debrid-link.fr/api/v2", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}),
	}
}

// Name returns the provider identifier.
func (c *DebridLinkClient) Name() string {
	return string(KindDebridLink)
}

// debridLinkResponse is the generic API response wrapper.
type debridLinkResponse[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Value   T      `json:"value,omitempty"`
}

func (c *DebridLinkClient) envelopeErr(code string) error {
	msg := code
	if msg == "" {
		msg = "unknown error"
	}
	return &ProviderError{Provider: c.Name(), StatusCode: http.StatusOK, Code: code, Message: msg}
}

type debridLinkAccount struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	PremiumLeft int64  `json:"premiumLeft"` // seconds of premium remaining
}

type debridLinkSeedbox struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	HashString      string  `json:"hashString"`
	TotalSize       int64   `json:"totalSize"`
	Status          int     `json:"status"`
	DownloadPercent float64 `json:"downloadPercent"`
	Files           []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Size        int64  `json:"size"`
		DownloadURL string `json:"downloadUrl"`
	} `json:"files,omitempty"`
}

type debridLinkDownload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

// Debrid-Link seedbox status codes
const (
	debridLinkStatusWaiting     = 0
	debridLinkStatusDownloading = 1
	debridLinkStatusDownloaded  = 2
	debridLinkStatusError       = 3
	debridLinkStatusVirus       = 4
)

// GetAccountInfo returns account details for the configured token.
func (c *DebridLinkClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var result debridLinkResponse[debridLinkAccount]
	if err := c.rest.getJSON(ctx, "/account/infos", nil, &result); err != nil {
		return nil, fmt.Errorf("get account infos: %w", err)
	}
	if !result.Success {
		return nil, c.envelopeErr(result.Error)
	}
	return &AccountInfo{
		Username: result.Value.Username,
		Email:    result.Value.Email,
		Premium:  result.Value.PremiumLeft > 0,
	}, nil
}

// ValidateToken checks the token and requires remaining premium time.
func (c *DebridLinkClient) ValidateToken(ctx context.Context) error {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return err
	}
	if !info.Premium {
		return &ProviderError{Provider: c.Name(), StatusCode: http.StatusForbidden, Message: "no premium time remaining"}
	}
	return nil
}

// AddMagnet adds a magnet to the seedbox and returns the torrent ID.
func (c *DebridLinkClient) AddMagnet(ctx context.Context, magnetURL string) (*AddMagnetResult, error) {
	trimmed := strings.TrimSpace(magnetURL)
	if trimmed == "" {
		return nil, fmt.Errorf("magnet URL is required")
	}

	form := url.Values{}
	form.Set("url", trimmed)
	form.Set("async", "true")

	var result debridLinkResponse[debridLinkSeedbox]
	if err := c.rest.postForm(ctx, "/seedbox/add", form, &result); err != nil {
		return nil, fmt.Errorf("seedbox add: %w", err)
	}
	if !result.Success {
		return nil, c.envelopeErr(result.Error)
	}

	log.Printf("[debridlink] magnet added: id=%s name=%s", result.Value.ID, result.Value.Name)
	return &AddMagnetResult{
		ID:   result.Value.ID,
		Hash: strings.ToLower(result.Value.HashString),
		Name: result.Value.Name,
	}, nil
}

// GetTorrentInfo retrieves a snapshot of a seedbox torrent by ID.
func (c *DebridLinkClient) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentSnapshot, error) {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return nil, fmt.Errorf("torrent ID is required")
	}

	query := url.Values{}
	query.Set("ids", trimmedID)

	var result debridLinkResponse[[]debridLinkSeedbox]
	if err := c.rest.getJSON(ctx, "/seedbox/list", query, &result); err != nil {
		return nil, fmt.Errorf("seedbox list: %w", err)
	}
	if !result.Success {
		return nil, c.envelopeErr(result.Error)
	}
	if len(result.Value) == 0 {
		return nil, &ProviderError{Provider: c.Name(), StatusCode: http.StatusNotFound, Message: fmt.Sprintf("torrent %s not found", trimmedID)}
	}

	snap := c.toSnapshot(&result.Value[0])
	return &snap, nil
}

func (c *DebridLinkClient) toSnapshot(sb *debridLinkSeedbox) TorrentSnapshot {
	snap := TorrentSnapshot{
		ID:        sb.ID,
		Name:      sb.Name,
		Hash:      strings.ToLower(sb.HashString),
		Bytes:     sb.TotalSize,
		Status:    c.NormalizeStatus(strconv.Itoa(sb.Status)),
		RawStatus: strconv.Itoa(sb.Status),
		Progress:  int(sb.DownloadPercent),
	}
	if snap.Status == models.TorrentStatusReady {
		snap.Progress = 100
	}
	for _, f := range sb.Files {
		snap.Files = append(snap.Files, TorrentFile{
			ID:       f.ID,
			Path:     f.Name,
			Bytes:    f.Size,
			Link:     f.DownloadURL,
			Selected: true,
		})
		if f.DownloadURL != "" {
			snap.Links = append(snap.Links, f.DownloadURL)
		}
	}
	return snap
}

// SelectFiles is a no-op for Debrid-Link since seedbox torrents download all
// files.
func (c *DebridLinkClient) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	log.Printf("[debridlink] SelectFiles called for torrent %s (no-op, Debrid-Link downloads all files)", torrentID)
	return nil
}

// UnrestrictLink resolves a hosted link through the downloader endpoint.
func (c *DebridLinkClient) UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, fmt.Errorf("link is required")
	}

	form := url.Values{}
	form.Set("url", trimmed)

	var result debridLinkResponse[debridLinkDownload]
	if err := c.rest.postForm(ctx, "/downloader/add", form, &result); err != nil {
		return nil, fmt.Errorf("downloader add: %w", err)
	}
	if !result.Success {
		return nil, c.envelopeErr(result.Error)
	}
	return &UnrestrictResult{
		ID:          result.Value.ID,
		Filename:    result.Value.Name,
		Filesize:    result.Value.Size,
		DownloadURL: result.Value.DownloadURL,
	}, nil
}

// DeleteTorrent removes a seedbox torrent from the account.
func (c *DebridLinkClient) DeleteTorrent(ctx context.Context, torrentID string) error {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return fmt.Errorf("torrent ID is required")
	}
	if err := c.rest.delete(ctx, "/seedbox/"+url.PathEscape(trimmedID)+"/remove", nil); err != nil {
		return fmt.Errorf("seedbox remove: %w", err)
	}
	log.Printf("[debridlink] torrent %s deleted", trimmedID)
	return nil
}

// ListTorrents returns snapshots of seedbox torrents on the account, at most
// limit entries. Debrid-Link's list is truncated locally.
func (c *DebridLinkClient) ListTorrents(ctx context.Context, limit int) ([]TorrentSnapshot, error) {
	var result debridLinkResponse[[]debridLinkSeedbox]
	if err := c.rest.getJSON(ctx, "/seedbox/list", nil, &result); err != nil {
		return nil, fmt.Errorf("seedbox list: %w", err)
	}
	if !result.Success {
		return nil, c.envelopeErr(result.Error)
	}
	snaps := make([]TorrentSnapshot, 0, len(result.Value))
	for i := range result.Value {
		snaps = append(snaps, c.toSnapshot(&result.Value[i]))
	}
	return limitSnapshots(snaps, limit), nil
}

// NormalizeStatus maps Debrid-Link numeric status codes onto the shared
// vocabulary. Raw is the code rendered as a string.
func (c *DebridLinkClient) NormalizeStatus(raw string) models.TorrentStatus {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return models.TorrentStatusError
	}
	switch code {
	case debridLinkStatusWaiting:
		return models.TorrentStatusQueued
	case debridLinkStatusDownloading:
		return models.TorrentStatusDownloading
	case debridLinkStatusDownloaded:
		return models.TorrentStatusReady
	case debridLinkStatusError, debridLinkStatusVirus:
		return models.TorrentStatusError
	default:
		return models.TorrentStatusError
	}
}
