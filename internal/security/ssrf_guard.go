// Package security はワーカーが外部へ送るHTTPリクエストの安全性検証を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes はフィード取得で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するネットワーク範囲。
// 接続時のIP検証はsafeurlのDialerが行う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル (クラウドメタデータIPを含む)
		"169.254.0.0/16",
		// キャリアグレードNAT (RFC 6598)
		"100.64.0.0/10",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames は名前解決前に拒否するホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

// blockedSuffixes は名前解決前に拒否するホスト名の接尾辞。
var blockedSuffixes = []string{
	".localhost",
	".internal",
	".local",
}

// FeedGuardConfig はフィード取得用HTTPクライアントの設定。
type FeedGuardConfig struct {
	Timeout         time.Duration
	MaxResponseSize int64
	AllowedPorts    []int
}

// FeedGuard はポッドキャストのフィードURLを検証し、SSRF対策済みのHTTPクライアントを提供する。
// フィードURLは管理者が入力した任意の値のため、ワーカーからの取得前に必ず検証する。
type FeedGuard struct {
	cfg    FeedGuardConfig
	once   sync.Once
	client *http.Client
}

// NewFeedGuard はFeedGuardを生成する。
// AllowedPortsが空の場合は80と443のみ許可する。
func NewFeedGuard(cfg FeedGuardConfig) *FeedGuard {
	if len(cfg.AllowedPorts) == 0 {
		cfg.AllowedPorts = []int{80, 443}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &FeedGuard{cfg: cfg}
}

// MaxResponseSize はフィード本文の読み取り上限バイト数を返す。
func (g *FeedGuard) MaxResponseSize() int64 {
	return g.cfg.MaxResponseSize
}

// Client はSSRF対策済みのHTTPクライアントを返す。クライアントは初回呼び出し時に1度だけ生成する。
// safeurlはDialerのControlフックで名前解決後のIPを検証するため、DNS再バインディングも拒否される。
func (g *FeedGuard) Client() *http.Client {
	g.once.Do(func() {
		config := safeurl.GetConfigBuilder().
			SetTimeout(g.cfg.Timeout).
			SetAllowedSchemes(allowedSchemes...).
			SetAllowedPorts(g.cfg.AllowedPorts...).
			Build()
		g.client = safeurl.Client(config).Client
	})
	return g.client
}

// ValidateURL はフィードURLを名前解決なしで静的に検証する。
func (g *FeedGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %q", scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
