package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

var outlookScopes = []string{
	"https://graph.microsoft.com/.default",
	"offline_access",
	"Mail.Read",
}

var graphMessageFields = strings.Join([]string{
	"id", "conversationId", "internetMessageId", "subject", "bodyPreview",
	"from", "sender", "toRecipients", "receivedDateTime",
}, ",")

// =============================================================================
// Outlook Adapter
// =============================================================================

// OutlookAdapter reads Outlook inboxes through Microsoft Graph and handles
// Microsoft OAuth.
type OutlookAdapter struct {
	config     *oauth2.Config
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// OutlookConfig holds Outlook configuration.
type OutlookConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TenantID     string

	HTTPClient *http.Client

	// BaseURL and TokenURL override the Microsoft hosts.
	BaseURL  string
	TokenURL string
}

// NewOutlookAdapter creates a new Outlook adapter.
func NewOutlookAdapter(cfg *OutlookConfig) *OutlookAdapter {
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "common"
	}
	endpoint := microsoft.AzureADEndpoint(tenantID)
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = graphBaseURL
	}

	log := providerLogger(domain.ProviderOutlook)
	return &OutlookAdapter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       outlookScopes,
			Endpoint:     endpoint,
		},
		httpClient: cfg.HTTPClient,
		baseURL:    baseURL,
		cb:         newCircuitBreaker("graph-api", log),
		log:        log,
	}
}

func (a *OutlookAdapter) Provider() domain.Provider {
	return domain.ProviderOutlook
}

// =============================================================================
// Authentication
// =============================================================================

func (a *OutlookAdapter) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (a *OutlookAdapter) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.config.Exchange(withHTTPClient(ctx, a.httpClient), code)
}

func (a *OutlookAdapter) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return refreshWith(ctx, a.config, a.httpClient, refreshToken)
}

// MailboxAddress prefers the mail attribute; work accounts without a
// mailbox alias fall back to the sign-in name.
func (a *OutlookAdapter) MailboxAddress(ctx context.Context, token *oauth2.Token) (string, error) {
	client := bearerClient(ctx, a.httpClient, token.AccessToken)

	var user graphUser
	if err := a.doGet(ctx, client, a.baseURL+"/me?$select=mail,userPrincipalName", &user); err != nil {
		return "", err
	}
	if user.Mail != "" {
		return user.Mail, nil
	}
	return user.UserPrincipalName, nil
}

// =============================================================================
// Fetch
// =============================================================================

// FetchBatch lists the newest inbox messages. Graph has no history cursor
// on this path, so every call reads the latest page and the cursor only
// records the newest receive time seen.
func (a *OutlookAdapter) FetchBatch(ctx context.Context, account *domain.MailAccount, accessToken string, limit int) (*out.FetchResult, error) {
	client := bearerClient(ctx, a.httpClient, accessToken)

	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", graphMessageFields)
	endpoint := a.baseURL + "/me/mailFolders/Inbox/messages?" + q.Encode()

	var resp graphMessageList
	if err := a.doGet(ctx, client, endpoint, &resp); err != nil {
		return nil, withAccount(err, account.EmailAddress)
	}

	messages := make([]domain.MailMessage, 0, len(resp.Value))
	for _, m := range resp.Value {
		if m.ID == "" {
			continue
		}
		messages = append(messages, m.toMailMessage())
	}

	cursor := account.Cursor
	cursor.LastReceivedAt = latestReceived(account.Cursor.LastReceivedAt, messages)

	return &out.FetchResult{Messages: messages, Cursor: cursor}, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *OutlookAdapter) doGet(ctx context.Context, client *http.Client, endpoint string, result interface{}) error {
	return executeWithCircuitBreaker(a.cb, domain.ProviderOutlook, a.log, "GET", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return out.NewProviderError(domain.ProviderOutlook, out.ProviderErrInvalidInput, "bad request", err, false)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return a.wrapError(err, "request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return a.wrapHTTPError(resp.StatusCode, string(body))
		}

		if result != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return out.NewProviderError(domain.ProviderOutlook, out.ProviderErrServer, "invalid response body", err, false)
			}
		}
		return nil
	}, outlookTrips)
}

func outlookTrips(err error) bool {
	var pe *out.ProviderError
	if errors.As(err, &pe) {
		return pe.Code == out.ProviderErrServer && pe.Retryable ||
			pe.Code == out.ProviderErrRateLimit ||
			pe.Code == out.ProviderErrNetwork
	}
	return !errors.Is(err, context.Canceled)
}

func (a *OutlookAdapter) wrapError(err error, defaultMsg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return out.NewProviderError(domain.ProviderOutlook, out.ProviderErrNetwork, defaultMsg, err, true)
	}
	return out.NewProviderError(domain.ProviderOutlook, out.ProviderErrServer, defaultMsg, err, true)
}

func (a *OutlookAdapter) wrapHTTPError(statusCode int, body string) error {
	switch statusCode {
	case 401:
		return providerError(domain.ProviderOutlook, out.ProviderErrTokenExpired, statusCode, "token expired", nil, false)
	case 403:
		return providerError(domain.ProviderOutlook, out.ProviderErrAuth, statusCode, "access denied", nil, false)
	case 404:
		return providerError(domain.ProviderOutlook, out.ProviderErrNotFound, statusCode, "not found", nil, false)
	case 410:
		return providerError(domain.ProviderOutlook, out.ProviderErrSyncRequired, statusCode, "full sync required", nil, false)
	case 429:
		return providerError(domain.ProviderOutlook, out.ProviderErrRateLimit, statusCode, "too many requests", nil, true)
	}
	return providerError(domain.ProviderOutlook, out.ProviderErrServer, statusCode,
		fmt.Sprintf("HTTP %d: %s", statusCode, strings.TrimSpace(body)), nil, statusCode >= 500)
}

// =============================================================================
// Graph API types
// =============================================================================

type graphUser struct {
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type graphMessageList struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphMessage struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversationId"`
	InternetMessageID string           `json:"internetMessageId"`
	Subject           string           `json:"subject"`
	BodyPreview       string           `json:"bodyPreview"`
	From              *graphRecipient  `json:"from"`
	Sender            *graphRecipient  `json:"sender"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	ReceivedDateTime  string           `json:"receivedDateTime"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (m graphMessage) toMailMessage() domain.MailMessage {
	msg := domain.MailMessage{
		Provider: domain.ProviderOutlook,
		ID:       m.ID,
		ThreadID: m.ConversationID,
		Subject:  m.Subject,
		Snippet:  m.BodyPreview,
	}

	switch {
	case m.From != nil && m.From.EmailAddress.Address != "":
		msg.From = m.From.EmailAddress.format()
	case m.Sender != nil:
		msg.From = m.Sender.EmailAddress.format()
	}

	to := make([]string, 0, len(m.ToRecipients))
	for _, r := range m.ToRecipients {
		if r.EmailAddress.Address != "" {
			to = append(to, r.EmailAddress.Address)
		}
	}
	msg.To = strings.Join(to, ", ")

	if t, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
		msg.ReceivedAt = t.UTC()
	}
	return msg
}

func (e graphEmailAddress) format() string {
	if e.Name != "" && e.Name != e.Address {
		return fmt.Sprintf("%s <%s>", e.Name, e.Address)
	}
	return e.Address
}

var (
	_ out.MailFetcher       = (*OutlookAdapter)(nil)
	_ out.MailAuthenticator = (*OutlookAdapter)(nil)
)
