package utils

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

type HTTPClientConfig struct {
	ConnectTimeout  time.Duration
	TransferTimeout time.Duration // 0 = unbounded
	KATimeout       time.Duration
	LowSpeedLimit   int64 // bytes/s; abort if below this for LowSpeedTime
	LowSpeedTime    time.Duration
	MaxRedirects    int
	MaxRetries      int
	SkipTLSVerify   bool
	ProxyURL        string
	ProxyUsername   string
	ProxyPassword   string
	Username        string
	Password        string
	UserAgent       string
	Referer         string
	Cookie          string
	Headers         map[string]string
}

func (c *HTTPClientConfig) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KATimeout == 0 {
		c.KATimeout = 60 * time.Second
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
	SetHeader(key, value string)
}

type DownpourHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewDownpourHTTPClient(cfg HTTPClientConfig) *DownpourHTTPClient {
	cfg.ApplyDefaults()
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		MaxConnsPerHost:     0,
	}
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	client := &http.Client{
		Timeout:   cfg.TransferTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}
	return &DownpourHTTPClient{client: client, config: cfg}
}

func (d *DownpourHTTPClient) SetHeader(key, value string) {
	if d.config.Headers == nil {
		d.config.Headers = make(map[string]string)
	}
	d.config.Headers[key] = value
}

func (d *DownpourHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", userAgents[0])
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
	if d.config.Referer != "" {
		req.Header.Set("Referer", d.config.Referer)
	}
	if d.config.Cookie != "" {
		req.Header.Set("Cookie", d.config.Cookie)
	}
	if d.config.Username != "" {
		req.SetBasicAuth(d.config.Username, d.config.Password)
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}
