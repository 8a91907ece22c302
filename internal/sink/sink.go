package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/swap-tower/internal/config"
	"github.com/devblac/swap-tower/internal/storage"
)

// AnomalyPayload is the data passed to sinks.
type AnomalyPayload struct {
	ID          string
	Reason      string
	Kind        string
	ChainID     uint64
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Escrow      string
	Hashlock    string
	Event       map[string]any
	CreatedAt   time.Time
}

// PayloadFromAnomaly converts a stored anomaly into the sink payload.
func PayloadFromAnomaly(a storage.Anomaly) AnomalyPayload {
	p := AnomalyPayload{
		ID:          a.ID,
		Reason:      a.Reason,
		Kind:        a.Kind,
		ChainID:     a.ChainID,
		BlockNumber: a.BlockNumber,
		TxHash:      a.TxHash,
		LogIndex:    a.LogIndex,
		Escrow:      a.Escrow,
		Hashlock:    a.Hashlock,
		CreatedAt:   a.CreatedAt,
	}
	if a.PayloadJSON != "" {
		_ = json.Unmarshal([]byte(a.PayloadJSON), &p.Event)
	}
	return p
}

type Sender interface {
	Send(ctx context.Context, payload AnomalyPayload) error
}

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string
}

// New builds the sender described by a sink config.
func New(s config.Sink) (Sender, error) {
	switch strings.ToLower(s.Type) {
	case "slack":
		return NewSlackSender(s.WebhookURL, s.Template)
	case "teams":
		return NewTeamsSender(s.WebhookURL, s.Template)
	case "webhook":
		return NewWebhookSender(s.URL, s.Method, s.Template, map[string]string{"Content-Type": "application/json"})
	default:
		return nil, fmt.Errorf("unsupported sink type %s", s.Type)
	}
}

// NewWebhookSender builds a generic HTTP sink.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &httpSender{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  defaultClient(),
		headers: headers,
	}, nil
}

// NewSlackSender builds a Slack-compatible webhook sink.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
}

// NewTeamsSender builds a Teams-compatible webhook sink.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	// Teams accepts simple {text: "..."} payloads.
	return NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
}

func (s *httpSender) Send(ctx context.Context, payload AnomalyPayload) error {
	bodyStr, err := executeTemplate(s.render, payload)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(map[string]string{
		"text": bodyStr,
	})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// StatusError is returned when a sink answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink http status %d", e.Code)
}

const defaultTemplate = "ANOMALY {{.Reason}} {{.Kind}} chain {{.ChainID}} block {{.BlockNumber}} escrow {{short_addr .Escrow}} tx {{.TxHash}}"

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": func(addr string) string {
			if len(addr) <= 10 {
				return addr
			}
			return addr[:6] + "..." + addr[len(addr)-4:]
		},
	}
	return template.New("msg").Funcs(funcs).Parse(tmpl)
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}
