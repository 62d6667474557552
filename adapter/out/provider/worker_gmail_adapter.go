package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// gmailMetadataHeaders are the only headers the classifier looks at.
var gmailMetadataHeaders = []string{"From", "To", "Subject", "Date"}

const (
	gmailInboxLabel       = "INBOX"
	gmailFetchConcurrency = 5
)

// =============================================================================
// Gmail Adapter
// =============================================================================

// GmailAdapter reads Gmail inboxes and handles Google OAuth.
type GmailAdapter struct {
	config     *oauth2.Config
	httpClient *http.Client
	endpoint   string
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient carries the provider timeout. Nil uses http.DefaultClient.
	HTTPClient *http.Client

	// Endpoint and TokenURL override the Google hosts.
	Endpoint string
	TokenURL string
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	log := providerLogger(domain.ProviderGmail)
	return &GmailAdapter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     endpoint,
		},
		httpClient: cfg.HTTPClient,
		endpoint:   cfg.Endpoint,
		cb:         newCircuitBreaker("gmail-api", log),
		log:        log,
	}
}

func (a *GmailAdapter) Provider() domain.Provider {
	return domain.ProviderGmail
}

// =============================================================================
// Authentication
// =============================================================================

func (a *GmailAdapter) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (a *GmailAdapter) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.config.Exchange(withHTTPClient(ctx, a.httpClient), code)
}

func (a *GmailAdapter) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return refreshWith(ctx, a.config, a.httpClient, refreshToken)
}

func (a *GmailAdapter) MailboxAddress(ctx context.Context, token *oauth2.Token) (string, error) {
	svc, err := a.getService(ctx, token.AccessToken)
	if err != nil {
		return "", err
	}

	var profile *gmail.Profile
	err = a.executeWithCircuitBreaker("profile", func() error {
		var callErr error
		profile, callErr = svc.Users.GetProfile("me").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", a.wrapError(err, "failed to get profile")
	}
	return profile.EmailAddress, nil
}

// =============================================================================
// Fetch
// =============================================================================

// FetchBatch reads up to limit messages. With a stored history ID it asks
// for messages added since then; without one, or when the history query
// fails for a reason other than authorization, it lists the latest inbox
// messages instead.
func (a *GmailAdapter) FetchBatch(ctx context.Context, account *domain.MailAccount, accessToken string, limit int) (*out.FetchResult, error) {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail client").WithAccount(account.EmailAddress)
	}

	if account.Cursor.HistoryID > 0 {
		result, err := a.fetchHistory(ctx, svc, account.Cursor, limit)
		if err == nil {
			return result, nil
		}
		if isAuthFailure(err) || ctx.Err() != nil {
			return nil, withAccount(err, account.EmailAddress)
		}
		a.log.Warn().Err(err).Str("account", account.EmailAddress).
			Uint64("history_id", account.Cursor.HistoryID).
			Msg("history fetch failed, falling back to latest list")
	}

	result, err := a.fetchLatest(ctx, svc, account.Cursor, limit)
	if err != nil {
		return nil, withAccount(err, account.EmailAddress)
	}
	return result, nil
}

func (a *GmailAdapter) fetchHistory(ctx context.Context, svc *gmail.Service, cursor domain.MailCursor, limit int) (*out.FetchResult, error) {
	var resp *gmail.ListHistoryResponse
	err := a.executeWithCircuitBreaker("history.list", func() error {
		var callErr error
		resp, callErr = svc.Users.History.List("me").
			StartHistoryId(cursor.HistoryID).
			HistoryTypes("messageAdded").
			LabelId(gmailInboxLabel).
			MaxResults(int64(limit)).
			Context(ctx).Do()
		return callErr
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			// history ID too old
			return nil, out.NewProviderError(domain.ProviderGmail, out.ProviderErrSyncRequired, "history expired", err, false)
		}
		return nil, a.wrapError(err, "failed to list history")
	}

	ids, next := collectAddedMessages(resp, cursor.HistoryID, limit)
	messages, err := a.fetchMetadata(ctx, svc, ids)
	if err != nil {
		return nil, err
	}

	return &out.FetchResult{
		Messages:    messages,
		Cursor:      domain.MailCursor{HistoryID: next, LastReceivedAt: latestReceived(cursor.LastReceivedAt, messages)},
		Incremental: true,
	}, nil
}

// collectAddedMessages returns at most limit message IDs in history order
// and the history ID to resume from. A record is only consumed whole, so
// the resume point never skips a message that was not returned.
func collectAddedMessages(resp *gmail.ListHistoryResponse, from uint64, limit int) ([]string, uint64) {
	seen := make(map[string]struct{})
	var ids []string
	next := from
	truncated := false

	for _, h := range resp.History {
		var added []string
		for _, m := range h.MessagesAdded {
			if m.Message == nil || m.Message.Id == "" {
				continue
			}
			if _, ok := seen[m.Message.Id]; ok {
				continue
			}
			added = append(added, m.Message.Id)
		}

		if len(ids) > 0 && len(ids)+len(added) > limit {
			truncated = true
			break
		}
		for _, id := range added {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if h.Id > next {
			next = h.Id
		}
	}

	if !truncated && resp.NextPageToken == "" && resp.HistoryId > next {
		next = resp.HistoryId
	}
	return ids, next
}

func (a *GmailAdapter) fetchLatest(ctx context.Context, svc *gmail.Service, cursor domain.MailCursor, limit int) (*out.FetchResult, error) {
	var resp *gmail.ListMessagesResponse
	err := a.executeWithCircuitBreaker("messages.list", func() error {
		var callErr error
		resp, callErr = svc.Users.Messages.List("me").
			LabelIds(gmailInboxLabel).
			MaxResults(int64(limit)).
			Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list messages")
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	messages, err := a.fetchMetadata(ctx, svc, ids)
	if err != nil {
		return nil, err
	}

	// The listing says nothing about history, so an existing cursor stays put.
	// A first fetch starts the account at its newest message.
	next := cursor
	if next.HistoryID == 0 {
		for _, m := range messages {
			if m.HistoryID > next.HistoryID {
				next.HistoryID = m.HistoryID
			}
		}
	}
	next.LastReceivedAt = latestReceived(cursor.LastReceivedAt, messages)

	return &out.FetchResult{Messages: messages, Cursor: next}, nil
}

// fetchMetadata loads headers for ids in parallel and returns them in the
// same order. Messages deleted in the meantime are skipped; any other
// failure fails the batch.
func (a *GmailAdapter) fetchMetadata(ctx context.Context, svc *gmail.Service, ids []string) ([]domain.MailMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	results := make([]*domain.MailMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gmailFetchConcurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			var msg *gmail.Message
			err := a.executeWithCircuitBreaker("messages.get", func() error {
				var callErr error
				msg, callErr = svc.Users.Messages.Get("me", id).
					Format("metadata").
					MetadataHeaders(gmailMetadataHeaders...).
					Context(gctx).Do()
				return callErr
			})
			if err != nil {
				var apiErr *googleapi.Error
				if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
					return nil
				}
				return a.wrapError(err, fmt.Sprintf("failed to fetch message %s", id))
			}
			converted := convertGmailMessage(msg)
			results[i] = &converted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]domain.MailMessage, 0, len(ids))
	for _, m := range results {
		if m != nil {
			messages = append(messages, *m)
		}
	}
	return messages, nil
}

func convertGmailMessage(msg *gmail.Message) domain.MailMessage {
	result := domain.MailMessage{
		Provider:  domain.ProviderGmail,
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		Snippet:   msg.Snippet,
		HistoryID: msg.HistoryId,
	}

	var date string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				result.From = h.Value
			case "to":
				result.To = h.Value
			case "subject":
				result.Subject = h.Value
			case "date":
				date = h.Value
			}
		}
	}

	if t, err := mail.ParseDate(date); err == nil {
		result.ReceivedAt = t.UTC()
	} else if msg.InternalDate > 0 {
		result.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	return result
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context, accessToken string) (*gmail.Service, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(bearerClient(ctx, a.httpClient, accessToken)),
	}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	return gmail.NewService(ctx, opts...)
}

func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	return executeWithCircuitBreaker(a.cb, domain.ProviderGmail, a.log, operation, fn, gmailTrips)
}

// gmailTrips counts server-side failures only. Client errors such as an
// expired token say nothing about the health of the API.
func gmailTrips(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) *out.ProviderError {
	var pe *out.ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return providerError(domain.ProviderGmail, out.ProviderErrTokenExpired, apiErr.Code, "token expired", err, false)
		case 403:
			if strings.Contains(strings.ToLower(apiErr.Message), "rate limit") {
				return providerError(domain.ProviderGmail, out.ProviderErrRateLimit, apiErr.Code, "rate limit exceeded", err, true)
			}
			return providerError(domain.ProviderGmail, out.ProviderErrAuth, apiErr.Code, "access denied", err, false)
		case 404:
			return providerError(domain.ProviderGmail, out.ProviderErrNotFound, apiErr.Code, "not found", err, false)
		case 429:
			return providerError(domain.ProviderGmail, out.ProviderErrRateLimit, apiErr.Code, "too many requests", err, true)
		}
		if apiErr.Code >= 500 {
			return providerError(domain.ProviderGmail, out.ProviderErrServer, apiErr.Code, "server error", err, true)
		}
		return providerError(domain.ProviderGmail, out.ProviderErrServer, apiErr.Code, "HTTP "+strconv.Itoa(apiErr.Code), err, false)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return out.NewProviderError(domain.ProviderGmail, out.ProviderErrNetwork, defaultMsg, err, true)
	}
	return out.NewProviderError(domain.ProviderGmail, out.ProviderErrServer, defaultMsg, err, true)
}

var (
	_ out.MailFetcher       = (*GmailAdapter)(nil)
	_ out.MailAuthenticator = (*GmailAdapter)(nil)
)
