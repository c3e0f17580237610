package fetch

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// ProxyFromEnvironment returns a proxy function driven by http_proxy,
// https_proxy and no_proxy in either case. Credentials embedded in the proxy
// URL are sent as proxy basic auth by the transport.
func ProxyFromEnvironment() func(*http.Request) (*url.URL, error) {
	return proxyFunc(httpproxy.FromEnvironment())
}

// proxyFunc wraps cfg so that a malformed proxy URL means "no proxy" rather
// than a failed request.
func proxyFunc(cfg *httpproxy.Config) func(*http.Request) (*url.URL, error) {
	resolve := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		u, err := resolve(req.URL)
		if err != nil {
			return nil, nil
		}
		return u, nil
	}
}
