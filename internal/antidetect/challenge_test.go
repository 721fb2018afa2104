// internal/antidetect/challenge_test.go
package antidetect

import (
	"net/http"
	"testing"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

const challengeBody = `<html><form id="challenge-form"><input name="jschl_vc" value="x"/><input name="jschl_answer"/></form></html>`

func TestDetector_Match(t *testing.T) {
	d := NewDetector(CloudflareIUAM)

	tests := []struct {
		name   string
		status int
		server string
		body   string
		want   bool
	}{
		{"challenge", 503, "cloudflare", challengeBody, true},
		{"server suffix", 503, "cloudflare-nginx", challengeBody, true},
		{"wrong status", 200, "cloudflare", challengeBody, false},
		{"wrong server", 503, "nginx", challengeBody, false},
		{"missing answer marker", 503, "cloudflare", `<input name="jschl_vc"/>`, false},
		{"missing vc marker", 503, "cloudflare", `<input name="jschl_answer"/>`, false},
		{"plain outage", 503, "cloudflare", "Service Unavailable", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Match(tt.status, tt.server, tt.body); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetector_IsChallenge(t *testing.T) {
	d := NewDetector(CloudflareIUAM)
	req := crawl.NewRequest("test", "https://shop.example/p/1", nil)

	h := http.Header{}
	h.Set("Server", "cloudflare")
	if !d.IsChallenge(crawl.NewResponse(req, req.URL, 503, h, []byte(challengeBody), nil)) {
		t.Error("Expected challenge to be detected")
	}
	if d.IsChallenge(crawl.NewResponse(req, req.URL, 200, h, []byte("<html>ok</html>"), nil)) {
		t.Error("Expected regular page to pass")
	}
}

func TestDetector_HasMarkers(t *testing.T) {
	d := NewDetector(CloudflareIUAM)
	if !d.HasMarkers(challengeBody) {
		t.Error("Expected markers in challenge body")
	}
	if d.HasMarkers("<html>product</html>") {
		t.Error("Expected no markers in product page")
	}
	if NewDetector(ChallengeSignature{}).HasMarkers("anything") {
		t.Error("Expected a signature without markers to never match")
	}
}
