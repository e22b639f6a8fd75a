package debrid

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bridgarr/models"
)

// PremiumizeClient handles API interactions with Premiumize.me.
// It implements the Provider interface.
//
// Premiumize models torrents as "transfers" that land in cloud folders, and
// its links are already direct, so UnrestrictLink is a pass-through.
type PremiumizeClient struct {
	rest *restClient
	now  func() time.Time
}

var _ Provider = (*PremiumizeClient)(nil)

// NewPremiumizeClient creates a new Premiumize API client. Authentication is
// a query parameter, either "apikey" or "customer_id:pin".
func NewPremiumizeClient(apiKey string) *PremiumizeClient {
	token := strings.TrimSpace(apiKey)
	authorize := func(req *http.Request) {
		q := req.URL.Query()
		if id, pin, ok := strings.Cut(token, ":"); ok {
			q.Set("customer_id", id)
			q.Set("pin", pin)
		} else {
			q.Set("apikey", token)
		}
		req.URL.RawQuery = q.Encode()
	}
	return &PremiumizeClient{
		rest: newRESTClient("premiumize", "https://www.premiumize.me/api", authorize),
		now:  time.Now,
	}
}

// Name returns the provider identifier.
func (c *PremiumizeClient) Name() string {
	return string(KindPremiumize)
}

// premiumizeEnvelope carries the status/message pair every Premiumize
// response starts with. Payload fields sit alongside it at the top level.
type premiumizeEnvelope struct {
	Status  string `json:"status"` // "success" or "error"
	Message string `json:"message,omitempty"`
}

func (c *PremiumizeClient) envelopeErr(e premiumizeEnvelope) error {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &ProviderError{Provider: c.Name(), StatusCode: http.StatusOK, Message: msg}
}

type premiumizeAccount struct {
	premiumizeEnvelope
	CustomerID   string  `json:"customer_id"`
	PremiumUntil int64   `json:"premium_until"`
	LimitUsed    float64 `json:"limit_used"`
}

type premiumizeTransferCreate struct {
	premiumizeEnvelope
	ID   string `json:"id"`
	Name string `json:"name"`
}

type premiumizeTransfer struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"` // 0..1
	Src      string  `json:"src"`
	FolderID string  `json:"folder_id"`
	FileID   string  `json:"file_id"`
	Message  string  `json:"message"`
}

type premiumizeTransferList struct {
	premiumizeEnvelope
	Transfers []premiumizeTransfer `json:"transfers"`
}

type premiumizeItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"` // "file" or "folder"
	Size       int64  `json:"size"`
	Link       string `json:"link"`
	StreamLink string `json:"stream_link"`
}

type premiumizeFolder struct {
	premiumizeEnvelope
	Content []premiumizeItem `json:"content"`
}

// GetAccountInfo returns account details for the configured credentials.
func (c *PremiumizeClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var acct premiumizeAccount
	if err := c.rest.getJSON(ctx, "/account/info", nil, &acct); err != nil {
		return nil, fmt.Errorf("get account info: %w", err)
	}
	if acct.Status != "success" {
		return nil, c.envelopeErr(acct.premiumizeEnvelope)
	}
	until := time.Unix(acct.PremiumUntil, 0)
	return &AccountInfo{
		Username:  acct.CustomerID,
		Premium:   until.After(c.now()),
		ExpiresAt: until.UTC().Format(time.RFC3339),
	}, nil
}

// ValidateToken checks the credentials and requires active premium.
func (c *PremiumizeClient) ValidateToken(ctx context.Context) error {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return err
	}
	if !info.Premium {
		return &ProviderError{Provider: c.Name(), StatusCode: http.StatusForbidden, Message: "premium subscription expired"}
	}
	return nil
}

// AddMagnet creates a transfer from a magnet URI.
func (c *PremiumizeClient) AddMagnet(ctx context.Context, magnetURL string) (*AddMagnetResult, error) {
	trimmed := strings.TrimSpace(magnetURL)
	if trimmed == "" {
		return nil, fmt.Errorf("magnet URL is required")
	}

	form := url.Values{}
	form.Set("src", trimmed)

	var created premiumizeTransferCreate
	if err := c.rest.postForm(ctx, "/transfer/create", form, &created); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	if created.Status != "success" {
		return nil, c.envelopeErr(created.premiumizeEnvelope)
	}

	log.Printf("[premiumize] transfer created: id=%s name=%s", created.ID, created.Name)
	return &AddMagnetResult{ID: created.ID, Name: created.Name}, nil
}

// GetTorrentInfo retrieves a snapshot of a transfer by ID. There is no
// per-transfer endpoint, so the transfer list is filtered.
func (c *PremiumizeClient) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentSnapshot, error) {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return nil, fmt.Errorf("torrent ID is required")
	}

	transfers, err := c.listTransfers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range transfers {
		if transfers[i].ID == trimmedID {
			snap := c.toSnapshot(&transfers[i])
			if snap.Status == models.TorrentStatusReady {
				if err := c.attachFiles(ctx, &transfers[i], &snap); err != nil {
					return nil, err
				}
			}
			return &snap, nil
		}
	}
	return nil, &ProviderError{Provider: c.Name(), StatusCode: http.StatusNotFound, Message: fmt.Sprintf("transfer %s not found", trimmedID)}
}

func (c *PremiumizeClient) listTransfers(ctx context.Context) ([]premiumizeTransfer, error) {
	var list premiumizeTransferList
	if err := c.rest.getJSON(ctx, "/transfer/list", nil, &list); err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	if list.Status != "success" {
		return nil, c.envelopeErr(list.premiumizeEnvelope)
	}
	return list.Transfers, nil
}

func (c *PremiumizeClient) toSnapshot(t *premiumizeTransfer) TorrentSnapshot {
	snap := TorrentSnapshot{
		ID:        t.ID,
		Name:      t.Name,
		Status:    c.NormalizeStatus(t.Status),
		RawStatus: t.Status,
		Progress:  int(t.Progress * 100),
	}
	if snap.Status == models.TorrentStatusReady {
		snap.Progress = 100
	}
	return snap
}

// attachFiles lists the finished transfer's folder (or single file) and
// attaches direct links to the snapshot.
func (c *PremiumizeClient) attachFiles(ctx context.Context, t *premiumizeTransfer, snap *TorrentSnapshot) error {
	if t.FolderID == "" && t.FileID == "" {
		return nil
	}

	if t.FolderID != "" {
		query := url.Values{}
		query.Set("id", t.FolderID)

		var folder premiumizeFolder
		if err := c.rest.getJSON(ctx, "/folder/list", query, &folder); err != nil {
			return fmt.Errorf("list folder: %w", err)
		}
		if folder.Status != "success" {
			return c.envelopeErr(folder.premiumizeEnvelope)
		}
		for _, item := range folder.Content {
			if item.Type != "file" {
				continue
			}
			link := item.Link
			if item.StreamLink != "" {
				link = item.StreamLink
			}
			snap.Files = append(snap.Files, TorrentFile{
				ID:       item.ID,
				Path:     item.Name,
				Bytes:    item.Size,
				Link:     link,
				Selected: true,
			})
			snap.Bytes += item.Size
			snap.Links = append(snap.Links, link)
		}
		return nil
	}

	// Single-file transfer.
	query := url.Values{}
	query.Set("id", t.FileID)

	var item struct {
		premiumizeEnvelope
		premiumizeItem
	}
	if err := c.rest.getJSON(ctx, "/item/details", query, &item); err != nil {
		return fmt.Errorf("item details: %w", err)
	}
	link := item.Link
	if item.StreamLink != "" {
		link = item.StreamLink
	}
	snap.Files = append(snap.Files, TorrentFile{
		ID:       item.ID,
		Path:     item.Name,
		Bytes:    item.Size,
		Link:     link,
		Selected: true,
	})
	snap.Bytes += item.Size
	snap.Links = append(snap.Links, link)
	return nil
}

// SelectFiles is a no-op for Premiumize since transfers are auto-processed.
func (c *PremiumizeClient) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	log.Printf("[premiumize] SelectFiles called for transfer %s (no-op, Premiumize auto-processes)", torrentID)
	return nil
}

// UnrestrictLink is a pass-through: Premiumize folder links are already
// direct download URLs.
func (c *PremiumizeClient) UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, fmt.Errorf("link is required")
	}
	return &UnrestrictResult{DownloadURL: trimmed}, nil
}

// DeleteTorrent removes a transfer from the account.
func (c *PremiumizeClient) DeleteTorrent(ctx context.Context, torrentID string) error {
	trimmedID := strings.TrimSpace(torrentID)
	if trimmedID == "" {
		return fmt.Errorf("torrent ID is required")
	}

	form := url.Values{}
	form.Set("id", trimmedID)

	var env premiumizeEnvelope
	if err := c.rest.postForm(ctx, "/transfer/delete", form, &env); err != nil {
		return fmt.Errorf("delete transfer: %w", err)
	}
	if env.Status != "success" {
		return c.envelopeErr(env)
	}

	log.Printf("[premiumize] transfer %s deleted", trimmedID)
	return nil
}

// ListTorrents returns snapshots of transfers on the account, at most limit
// entries. Premiumize's transfer list does not page, so the list is truncated
// locally.
func (c *PremiumizeClient) ListTorrents(ctx context.Context, limit int) ([]TorrentSnapshot, error) {
	transfers, err := c.listTransfers(ctx)
	if err != nil {
		return nil, err
	}
	snaps := make([]TorrentSnapshot, 0, len(transfers))
	for i := range transfers {
		snaps = append(snaps, c.toSnapshot(&transfers[i]))
	}
	return limitSnapshots(snaps, limit), nil
}

// NormalizeStatus maps Premiumize transfer statuses onto the shared
// vocabulary.
func (c *PremiumizeClient) NormalizeStatus(raw string) models.TorrentStatus {
	switch raw {
	case "waiting", "queued":
		return models.TorrentStatusQueued
	case "running":
		return models.TorrentStatusDownloading
	case "finishing":
		return models.TorrentStatusProcessing
	case "finished", "seeding":
		return models.TorrentStatusReady
	case "error", "banned", "timeout":
		return models.TorrentStatusError
	case "deleted":
		return models.TorrentStatusDead
	default:
		return models.TorrentStatusError
	}
}
