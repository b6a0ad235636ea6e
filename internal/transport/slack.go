package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"standup-agent/internal/httpkit"
)

const defaultAPIBase = "https://slack.com/api"

// Slack implements Transport against the Slack Web API and Socket Mode.
// The bot token authorizes Web API calls; the app-level token opens the
// Socket Mode connection.
type Slack struct {
	botToken   string
	appToken   string
	httpClient *http.Client
	logger     *slog.Logger
	events     chan Event

	// apiBase overrides the Web API endpoint in tests.
	apiBase string
	dialer  *websocket.Dialer
}

var _ Transport = (*Slack)(nil)

// NewSlack creates a Slack transport. A nil httpClient gets a default
// with a 30s timeout.
func NewSlack(botToken, appToken string, httpClient *http.Client, logger *slog.Logger) *Slack {
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		botToken:   botToken,
		appToken:   appToken,
		httpClient: httpClient,
		logger:     logger.With("component", "transport"),
		events:     make(chan Event, 16),
		apiBase:    defaultAPIBase,
		dialer:     websocket.DefaultDialer,
	}
}

// Events is the inbound message stream.
func (s *Slack) Events() <-chan Event {
	return s.events
}

// apiResponse is the envelope every Web API method shares.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (r apiResponse) ok() bool       { return r.OK }
func (r apiResponse) errMsg() string { return r.Error }

type apiResult interface {
	ok() bool
	errMsg() string
}

// apiCall posts a form-encoded Web API request and decodes the
// response. All Slack methods accept this shape.
func (s *Slack) apiCall(ctx context.Context, token, method string, params url.Values, out apiResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.apiBase+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", method, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if !out.ok() {
		return fmt.Errorf("%s: %s", method, out.errMsg())
	}
	return nil
}

// Send posts text to a channel now.
func (s *Slack) Send(ctx context.Context, channelID, text string) error {
	var out struct{ apiResponse }
	return s.apiCall(ctx, s.botToken, "chat.postMessage", url.Values{
		"channel": {channelID},
		"text":    {text},
	}, &out)
}

// SendAt schedules text for a future instant.
func (s *Slack) SendAt(ctx context.Context, channelID, text string, at time.Time) error {
	var out struct{ apiResponse }
	return s.apiCall(ctx, s.botToken, "chat.scheduleMessage", url.Values{
		"channel": {channelID},
		"text":    {text},
		"post_at": {strconv.FormatInt(at.Unix(), 10)},
	}, &out)
}

// OpenDM opens (or reuses) a direct-message channel with the user.
func (s *Slack) OpenDM(ctx context.Context, userID string) (string, error) {
	var out struct {
		apiResponse
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	if err := s.apiCall(ctx, s.botToken, "conversations.open", url.Values{
		"users": {userID},
	}, &out); err != nil {
		return "", err
	}
	return out.Channel.ID, nil
}

// ListGroupMembers returns the user ids in a Slack usergroup.
func (s *Slack) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var out struct {
		apiResponse
		Users []string `json:"users"`
	}
	if err := s.apiCall(ctx, s.botToken, "usergroups.users.list", url.Values{
		"usergroup": {groupID},
	}, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// Run opens the Socket Mode connection and pumps inbound events until
// ctx is canceled. Dropped connections are reopened with backoff.
func (s *Slack) Run(ctx context.Context) error {
	defer close(s.events)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("socket mode connection lost", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

// socketEnvelope is one Socket Mode frame.
type socketEnvelope struct {
	Type       string          `json:"type"`
	EnvelopeID string          `json:"envelope_id"`
	Payload    json.RawMessage `json:"payload"`
}

type eventsAPIPayload struct {
	Event struct {
		Type    string `json:"type"`
		User    string `json:"user"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		TS      string `json:"ts"`
		BotID   string `json:"bot_id"`
		Subtype string `json:"subtype"`
	} `json:"event"`
}

func (s *Slack) runConnection(ctx context.Context) error {
	wsURL, err := s.openSocketURL(ctx)
	if err != nil {
		return err
	}

	conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial socket mode: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("socket mode connected")
	for {
		var env socketEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read envelope: %w", err)
		}

		switch env.Type {
		case "hello":
			continue
		case "disconnect":
			// Slack asks clients to reconnect before a refresh.
			s.logger.Debug("server requested reconnect")
			return fmt.Errorf("server disconnect")
		case "events_api":
			if env.EnvelopeID != "" {
				if err := conn.WriteJSON(map[string]string{"envelope_id": env.EnvelopeID}); err != nil {
					return fmt.Errorf("ack envelope: %w", err)
				}
			}
			s.handleEventsAPI(ctx, env.Payload)
		default:
			s.logger.Debug("ignoring envelope", "type", env.Type)
		}
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, payload json.RawMessage) {
	var p eventsAPIPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.logger.Warn("bad events_api payload", "error", err)
		return
	}

	ev := p.Event
	// Only plain user messages matter; edits, joins, and our own bot
	// posts all carry a subtype or bot id.
	if ev.Type != "message" || ev.BotID != "" || ev.Subtype != "" || ev.User == "" {
		return
	}

	out := Event{
		UserID:    ev.User,
		ChannelID: ev.Channel,
		Text:      ev.Text,
		Timestamp: parseSlackTS(ev.TS),
	}
	select {
	case s.events <- out:
	case <-ctx.Done():
	}
}

// openSocketURL requests a fresh Socket Mode URL with the app token.
func (s *Slack) openSocketURL(ctx context.Context) (string, error) {
	var out struct {
		apiResponse
		URL string `json:"url"`
	}
	if err := s.apiCall(ctx, s.appToken, "apps.connections.open", url.Values{}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// parseSlackTS converts a Slack "seconds.fraction" timestamp. A bad
// value falls back to now rather than dropping the event.
func parseSlackTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now().UTC()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
