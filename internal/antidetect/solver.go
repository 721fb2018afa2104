// internal/antidetect/solver.go
package antidetect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/valpere/ecomscrapexter/internal/utils"
)

// SolverConfig points at a FlareSolverr-compatible challenge solver.
type SolverConfig struct {
	URL        string        `yaml:"solver_url" json:"solver_url"`
	MaxTimeout time.Duration `yaml:"max_timeout" json:"max_timeout"`
	// Proxy routes the solver through the crawl's upstream so clearance is
	// earned from the same egress address.
	Proxy         string `yaml:"-" json:"-"`
	ProxyUsername string `yaml:"-" json:"-"`
	ProxyPassword string `yaml:"-" json:"-"`
}

type solverRequest struct {
	Cmd        string       `json:"cmd"`
	URL        string       `json:"url"`
	MaxTimeout int64        `json:"maxTimeout"`
	UserAgent  string       `json:"userAgent,omitempty"`
	Proxy      *solverProxy `json:"proxy,omitempty"`
}

type solverProxy struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type solverCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

type solverResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL       string         `json:"url"`
		Status    int            `json:"status"`
		Cookies   []solverCookie `json:"cookies"`
		UserAgent string         `json:"userAgent"`
	} `json:"solution"`
}

// SolverExchanger obtains challenge cookies from an external solver service.
type SolverExchanger struct {
	config SolverConfig
	client *http.Client
	logger *slog.Logger
}

// NewSolverExchanger creates an exchanger. client may be nil.
func NewSolverExchanger(config SolverConfig, client *http.Client, logger *slog.Logger) *SolverExchanger {
	if config.MaxTimeout == 0 {
		config.MaxTimeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: config.MaxTimeout + 10*time.Second}
	}
	return &SolverExchanger{
		config: config,
		client: client,
		logger: utils.Component(logger, "solver"),
	}
}

func (s *SolverExchanger) endpoint() string {
	base := strings.TrimRight(s.config.URL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Exchange asks the solver to load url and returns the cookies it ended up
// with.
func (s *SolverExchanger) Exchange(ctx context.Context, url, clientIdentity string) (map[string]string, error) {
	payload := solverRequest{
		Cmd:        "request.get",
		URL:        url,
		MaxTimeout: s.config.MaxTimeout.Milliseconds(),
		UserAgent:  clientIdentity,
	}
	if s.config.Proxy != "" {
		payload.Proxy = &solverProxy{
			URL:      s.config.Proxy,
			Username: s.config.ProxyUsername,
			Password: s.config.ProxyPassword,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solver request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read solver response: %w", err)
	}
	var out solverResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode solver response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != "ok" {
		return nil, fmt.Errorf("solver status %q (HTTP %d): %s", out.Status, resp.StatusCode, out.Message)
	}

	if ua := out.Solution.UserAgent; ua != "" && clientIdentity != "" && ua != clientIdentity {
		s.logger.Warn("solver user agent differs from client identity, cookies may be rejected",
			"solver_user_agent", ua, "client_identity", clientIdentity)
	}

	cookies := make(map[string]string, len(out.Solution.Cookies))
	for _, c := range out.Solution.Cookies {
		if c.Name == "" {
			continue
		}
		cookies[c.Name] = c.Value
	}
	return cookies, nil
}
