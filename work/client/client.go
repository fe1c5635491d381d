package client

import (
	"net/http"
	"time"

	"iptv-kiosk/work/config"
)

// HeaderSettingClient wraps http.Client to automatically set the kiosk
// identity headers on every outbound probe request. Providers frequently
// reject requests without a recognizable player User-Agent, so every probe
// goes through here rather than a bare http.Client.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds a client tuned for short probe requests:
// bounded per-request timeout, pooled keep-alive connections so repeated
// sweeps of the same provider reuse sockets.
func NewHeaderSettingClient(config *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: config.Prober.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: config.Prober.Timeout,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: config,
	}
}

func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
}
