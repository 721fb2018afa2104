// internal/antidetect/challenge.go
package antidetect

import (
	"net/http"
	"strings"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

// ChallengeSignature describes an anti-bot interstitial: a status code, a
// Server header prefix and markers that must all appear in the body.
type ChallengeSignature struct {
	Status       int
	ServerPrefix string
	Markers      []string
}

// CloudflareIUAM is the classic Cloudflare "I'm Under Attack" JavaScript
// challenge.
var CloudflareIUAM = ChallengeSignature{
	Status:       http.StatusServiceUnavailable,
	ServerPrefix: "cloudflare",
	Markers:      []string{"jschl_vc", "jschl_answer"},
}

// Detector recognises challenge responses. It is stateless.
type Detector struct {
	sig ChallengeSignature
}

// NewDetector creates a detector for sig.
func NewDetector(sig ChallengeSignature) *Detector {
	return &Detector{sig: sig}
}

// Match applies the signature to raw response parts.
func (d *Detector) Match(status int, server string, body string) bool {
	if status != d.sig.Status {
		return false
	}
	if !strings.HasPrefix(server, d.sig.ServerPrefix) {
		return false
	}
	for _, marker := range d.sig.Markers {
		if !strings.Contains(body, marker) {
			return false
		}
	}
	return true
}

// IsChallenge reports whether resp is a challenge interstitial.
func (d *Detector) IsChallenge(resp *crawl.Response) bool {
	return d.Match(resp.Status(), resp.Header("Server"), resp.Text())
}

// HasMarkers reports whether body still carries every challenge marker.
func (d *Detector) HasMarkers(body string) bool {
	if len(d.sig.Markers) == 0 {
		return false
	}
	for _, marker := range d.sig.Markers {
		if !strings.Contains(body, marker) {
			return false
		}
	}
	return true
}
