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

// RawStatusWaitingFilesSelection is Real-Debrid's state after magnet
// conversion, before files are picked. The acquisition loop answers it with a
// SelectFiles call.
const RawStatusWaitingFilesSelection = "waiting_files_selection"

// RealDebridClient handles API interactions with Real-Debrid.
// It implements the Provider interface.
type RealDebridClient struct {
	rest *restClient
}

var _ Provider = (*RealDebridClient)(nil)

// NewRealDebridClient creates a new Real-Debrid API client.
func NewRealDebridClient(apiKey string) *RealDebridClient {
	token := strings.TrimSpace(apiKey)
	return &RealDebridClient{
		rest: newRESTClient("realdebrid", "https://api.real-debrid.com/rest/1.0", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}),
	}
}

// Name returns the provider identifier.
func (c *RealDebridClient) Name() string {
	return string(KindRealDebrid)
}

type realDebridUser struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Type       string `json:"type"` // "premium" or "free"
	Premium    int64  `json:"premium"`
	Expiration string `json:"expiration"`
}

type realDebridTorrent struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Links    []string `json:"links"`
	Files    []struct {
		ID       int    `json:"id"`
		Path     string `json:"path"`
		Bytes    int64  `json:"bytes"`
		Selected int    `json:"selected"`
	} `json:"files,omitempty"`
}

type realDebridAddMagnet struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type realDebridUnrestrict struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Download string `json:"download"`
}

// GetAccountInfo returns account details for the configured token.
func (c *RealDebridClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var user realDebridUser
	if err := c.rest.getJSON(ctx, "/user", nil, &user); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &AccountInfo{
		Username:  user.Username,
		Email:     user.Email,
		Premium:   user.Type == "premium",
		ExpiresAt: user.Expiration,
	}, nil
}

// ValidateToken checks the token and requires an active premium account.
func (c *RealDebridClient) ValidateToken(ctx context.Context) error {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return err
	}
	if !info.Premium {
		return &ProviderError{Provider: c.Name(), StatusCode: http.StatusForbidden, Message: "account is not premium"}
	}
	return nil
}

// AddMagnet submits a magnet URI and returns the torrent ID.
func (c *RealDebridClient) AddMagnet(ctx context.Context, magnetURL string) (*AddMagnetResult, error) {
	trimmed := strings.TrimSpace(magnetURL)
	if trimmed == "" {
		return nil, fmt.Errorf("magnet URL is required")
	}

	form := url.Values{}
	form.Set("magnet", trimmed)

	var added realDebridAddMagnet
	if err := c.rest.postForm(ctx, "/torrents/addMagnet", form, &added); err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}

	log.Printf("[realdebrid] magnet added: id=%s", added.ID)
	return &AddMagnetResult{ID: added.ID}, nil
}

// GetTorrentInfo retrieves a snapshot of a torrent by ID.
func (c *RealDebridClient) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentSnapshot, error) {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return nil, fmt.Errorf("torrent ID is required")
	}

	var t realDebridTorrent
	if err := c.rest.getJSON(ctx, "/torrents/info/"+url.PathEscape(trimmedID), nil, &t); err != nil {
		return nil, fmt.Errorf("get torrent info: %w", err)
	}
	snap := c.toSnapshot(&t)
	return &snap, nil
}

func (c *RealDebridClient) toSnapshot(t *realDebridTorrent) TorrentSnapshot {
	snap := TorrentSnapshot{
		ID:        t.ID,
		Name:      t.Filename,
		Hash:      strings.ToLower(t.Hash),
		Bytes:     t.Bytes,
		Status:    c.NormalizeStatus(t.Status),
		RawStatus: t.Status,
		Progress:  int(t.Progress),
		Links:     t.Links,
	}
	for _, f := range t.Files {
		snap.Files = append(snap.Files, TorrentFile{
			ID:       strconv.Itoa(f.ID),
			Path:     f.Path,
			Bytes:    f.Bytes,
			Selected: f.Selected == 1,
		})
	}
	return snap
}

// SelectFiles marks files for download. Real-Debrid requires this step before
// links appear; fileIDs is a comma-separated list or "all".
func (c *RealDebridClient) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return fmt.Errorf("torrent ID is required")
	}
	if fileIDs == "" {
		fileIDs = "all"
	}

	form := url.Values{}
	form.Set("files", fileIDs)

	if err := c.rest.postForm(ctx, "/torrents/selectFiles/"+url.PathEscape(trimmedID), form, nil); err != nil {
		return fmt.Errorf("select files: %w", err)
	}
	log.Printf("[realdebrid] selected files %s on torrent %s", fileIDs, trimmedID)
	return nil
}

// UnrestrictLink converts a Real-Debrid hosted link into a direct URL.
func (c *RealDebridClient) UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, fmt.Errorf("link is required")
	}

	form := url.Values{}
	form.Set("link", trimmed)

	var res realDebridUnrestrict
	if err := c.rest.postForm(ctx, "/unrestrict/link", form, &res); err != nil {
		return nil, fmt.Errorf("unrestrict link: %w", err)
	}
	return &UnrestrictResult{
		ID:          res.ID,
		Filename:    res.Filename,
		Filesize:    res.Filesize,
		DownloadURL: res.Download,
	}, nil
}

// DeleteTorrent removes a torrent from the account.
func (c *RealDebridClient) DeleteTorrent(ctx context.Context, torrentID string) error {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return fmt.Errorf("torrent ID is required")
	}
	if err := c.rest.delete(ctx, "/torrents/delete/"+url.PathEscape(trimmedID), nil); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	log.Printf("[realdebrid] torrent %s deleted", trimmedID)
	return nil
}

// ListTorrents returns snapshots of torrents on the account, at most limit
// entries. Real-Debrid pages server-side.
func (c *RealDebridClient) ListTorrents(ctx context.Context, limit int) ([]TorrentSnapshot, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var torrents []realDebridTorrent
	if err := c.rest.getJSON(ctx, "/torrents", query, &torrents); err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}
	snaps := make([]TorrentSnapshot, 0, len(torrents))
	for i := range torrents {
		snaps = append(snaps, c.toSnapshot(&torrents[i]))
	}
	return snaps, nil
}

// NormalizeStatus maps Real-Debrid status strings onto the shared vocabulary.
func (c *RealDebridClient) NormalizeStatus(raw string) models.TorrentStatus {
	switch raw {
	case "queued", "magnet_conversion", RawStatusWaitingFilesSelection:
		return models.TorrentStatusQueued
	case "downloading":
		return models.TorrentStatusDownloading
	case "compressing", "uploading":
		return models.TorrentStatusProcessing
	case "downloaded":
		return models.TorrentStatusReady
	case "magnet_error", "error", "virus":
		return models.TorrentStatusError
	case "dead":
		return models.TorrentStatusDead
	default:
		return models.TorrentStatusError
	}
}
