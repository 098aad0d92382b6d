// Package security は外部URLの検証とHTMLサニタイズを提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrRedirectNotAllowed はリダイレクト先が許可リストにないことを示す。
var ErrRedirectNotAllowed = errors.New("redirect target not allowed")

// blockedNetworks は外部取得で拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// URLGuard は外部URLへのアクセスとリダイレクト先を検証する。
type URLGuard struct{}

// NewURLGuard はURLGuardを生成する。
func NewURLGuard() *URLGuard {
	return &URLGuard{}
}

// NewSafeClient はプライベートIP等への接続をダイアル時に拒否するHTTPクライアントを返す。
// DNS解決後のIPもsafeurlが検証する。
func (g *URLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

// ValidateFetchURL はニュースフィードなど、サーバーから取得するURLを静的に検証する。
func (g *URLGuard) ValidateFetchURL(rawURL string) error {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// ValidateRedirect はブラウザを送り出す外部URLを検証する。
// httpsの絶対URLで、ホストがallowedHostsのいずれかと一致する場合のみ許可する。
func (g *URLGuard) ValidateRedirect(rawURL string, allowedHosts []string) error {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return err
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q", ErrRedirectNotAllowed, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo present", ErrRedirectNotAllowed)
	}
	if p := u.Port(); p != "" && p != "443" {
		return fmt.Errorf("%w: port %s", ErrRedirectNotAllowed, p)
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range allowedHosts {
		if host == strings.ToLower(strings.TrimSpace(h)) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q", ErrRedirectNotAllowed, host)
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("URL is not absolute: %s", rawURL)
	}
	return u, nil
}
