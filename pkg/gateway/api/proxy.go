// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
	"github.com/stacklok/mcp-gateway/pkg/gateway/routing"
)

// SessionHeader carries the MCP session id on streamable HTTP requests.
const SessionHeader = "Mcp-Session-Id"

// adapterMCPPath is where adapter instances serve MCP traffic.
const adapterMCPPath = "/mcp"

// maxReplayBody is the largest request body kept in memory so the request can
// be sent again to a replacement instance.
const maxReplayBody = 1 << 20

// forward is one attempt at delivering a request to a session's instance.
type forward struct {
	in      *http.Request
	adapter string
	route   gateway.Route
	body    []byte
	replay  bool
	retried bool
}

type forwardKey struct{}

// Proxy forwards MCP traffic to the adapter instance owning the session.
//
// Requests without a session id start a new session: the proxy assigns a UUID,
// forwards it to the instance and returns it to the client. The id the gateway
// routed on is always the one returned, so later requests land on the same instance.
//
// When the instance cannot be reached the route is reported stale and the
// request is sent once more to the instance resolved in its place.
type Proxy struct {
	resolver routing.Resolver
	proxy    *httputil.ReverseProxy
	logger   *slog.Logger
}

// NewProxy creates a proxy resolving routes through resolver.
func NewProxy(resolver routing.Resolver, l *slog.Logger) *Proxy {
	p := &Proxy{resolver: resolver, logger: l}
	p.proxy = &httputil.ReverseProxy{
		Rewrite:        rewriteToRoute,
		ModifyResponse: pinSessionHeader,
		ErrorHandler:   p.handleTransportError,
		// MCP responses may be event streams.
		FlushInterval: -1,
	}
	return p
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ErrorHandler(p.serve)(w, r)
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request) error {
	adapterName := chi.URLParam(r, "name")

	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID = uuid.NewString()
		r.Header.Set(SessionHeader, sessionID)
	}

	body, replay, err := bufferBody(r)
	if err != nil {
		return fmt.Errorf("%w: failed to read request body: %v", gateway.ErrInvalidInput, err)
	}

	route, err := p.resolver.ResolveRoute(r.Context(), sessionID, adapterName)
	if err != nil {
		return err
	}

	p.forward(w, r, &forward{adapter: adapterName, route: route, body: body, replay: replay})
	return nil
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, f *forward) {
	p.logger.Debug("forwarding request",
		"session_id", f.route.SessionID, "adapter", f.adapter, "instance", f.route.InstanceID, "retry", f.retried)

	req := r.WithContext(context.WithValue(r.Context(), forwardKey{}, f))
	if f.replay {
		req.ContentLength = int64(len(f.body))
		req.Body = http.NoBody
		if len(f.body) > 0 {
			req.Body = io.NopCloser(bytes.NewReader(f.body))
		}
	}
	f.in = req
	p.proxy.ServeHTTP(w, req)
}

// bufferBody reads a small body into memory so it can be replayed. Larger
// bodies are streamed through untouched and the request is not retried.
func bufferBody(r *http.Request) ([]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true, nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody+1))
	if err != nil {
		return nil, false, err
	}
	if len(buf) > maxReplayBody {
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
		return nil, false, nil
	}
	return buf, true, nil
}

func rewriteToRoute(pr *httputil.ProxyRequest) {
	route := pr.In.Context().Value(forwardKey{}).(*forward).route
	pr.Out.URL.Scheme = "http"
	pr.Out.URL.Host = route.Endpoint
	pr.Out.URL.Path = adapterMCPPath
	pr.Out.URL.RawPath = ""
	pr.Out.Host = route.Endpoint
	pr.SetXForwarded()
}

func pinSessionHeader(resp *http.Response) error {
	resp.Header.Set(SessionHeader, resp.Request.Header.Get(SessionHeader))
	return nil
}

// handleTransportError reacts to an instance that cannot be reached. The first
// failure reports the route stale and replays the request on the instance that
// replaces it; otherwise the route is dropped and the client gets a 502.
func (p *Proxy) handleTransportError(w http.ResponseWriter, r *http.Request, err error) {
	f := r.Context().Value(forwardKey{}).(*forward)
	sessionID := f.route.SessionID
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		p.logger.Debug("client went away", "session_id", sessionID)
		return
	}

	if f.replay && !f.retried {
		p.logger.Warn("instance unreachable, resolving the session again",
			"session_id", sessionID, "instance", f.route.InstanceID, "error", err)
		route, staleErr := p.resolver.ReportStale(f.in.Context(), sessionID, f.adapter)
		if staleErr != nil {
			w.Header().Set(SessionHeader, sessionID)
			writeError(w, r, staleErr)
			return
		}
		p.forward(w, f.in, &forward{adapter: f.adapter, route: route, body: f.body, replay: true, retried: true})
		return
	}

	p.logger.Warn("instance unreachable, invalidating route",
		"session_id", sessionID, "instance", f.route.InstanceID, "error", err)
	if invErr := p.resolver.InvalidateRoute(context.WithoutCancel(r.Context()), sessionID); invErr != nil {
		p.logger.Error("failed to invalidate route", "session_id", sessionID, "error", invErr)
	}
	w.Header().Set(SessionHeader, sessionID)
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}
