package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgellow/prima-front/internal/config"
	"github.com/dgellow/prima-front/internal/ioutil"
	jsonwriter "github.com/dgellow/prima-front/internal/json"
	"github.com/dgellow/prima-front/internal/log"
	"github.com/dgellow/prima-front/internal/session"
	"github.com/dgellow/prima-front/internal/urlutil"
)

const (
	// MaxRequestBody caps create/update payloads from the browser
	MaxRequestBody = 1 << 20
	// MaxResponseBody caps what is relayed back from the upstream
	MaxResponseBody = 10 << 20
	// maxErrorDetails is how much of a failed upstream body is echoed back
	maxErrorDetails = 4 << 10
)

// AllowedMethods lists the methods a resource endpoint answers
const AllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"

// ResourceProxy forwards dashboard CRUD calls to the upstream REST backend
// with the caller's access token attached
type ResourceProxy struct {
	upstream   config.UpstreamConfig
	resources  map[string]*config.ResourceConfig
	httpClient *http.Client
}

// NewResourceProxy creates a proxy for the configured resources. A nil
// transport uses http.DefaultTransport.
func NewResourceProxy(upstream config.UpstreamConfig, resources map[string]*config.ResourceConfig, transport http.RoundTripper) (*ResourceProxy, error) {
	if _, err := url.Parse(upstream.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream baseURL: %w", err)
	}
	if upstream.TokenHeader == "" {
		return nil, fmt.Errorf("upstream tokenHeader is required")
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &ResourceProxy{
		upstream:  upstream,
		resources: resources,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   upstream.Timeout,
			// Don't follow redirects automatically
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Resources returns the configured resource names in a stable order
func (p *ResourceProxy) Resources() []string {
	names := make([]string, 0, len(p.resources))
	for name := range p.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler returns the endpoint for one resource. The request context must
// carry the caller's session (see session.WithSession) for anything but OPTIONS.
func (p *ResourceProxy) Handler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.serveResource(w, r, name)
	})
}

func (p *ResourceProxy) serveResource(w http.ResponseWriter, r *http.Request, name string) {
	res, ok := p.resources[name]
	if !ok {
		jsonwriter.WriteNotFound(w, "Unknown resource")
		return
	}

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Allow", AllowedMethods)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		w.Header().Set("Allow", AllowedMethods)
		jsonwriter.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	sess, ok := session.FromContext(r.Context())
	if !ok || sess.AccessToken == "" {
		jsonwriter.WriteUnauthorized(w, "Unauthorized")
		return
	}

	query := r.URL.Query()
	var body []byte

	switch r.Method {
	case http.MethodGet:
		p.applyListDefaults(query, res)

	case http.MethodDelete:
		if query.Get(p.upstream.TenantParam) == "" || query.Get(res.IDParam) == "" {
			jsonwriter.WriteBadRequest(w, fmt.Sprintf("Missing required parameters: %s and %s", p.upstream.TenantParam, res.IDParam))
			return
		}

	case http.MethodPost, http.MethodPut:
		stampField := p.upstream.CreatedByField
		if r.Method == http.MethodPut {
			stampField = p.upstream.ChangedByField
		}
		var err error
		body, err = buildRecordBody(r, res, stampField, sess.Username)
		if err != nil {
			jsonwriter.WriteBadRequest(w, err.Error())
			return
		}
	}

	start := time.Now()
	status, err := p.forward(r.Context(), w, r, name, res, query, body, sess.AccessToken)
	fields := map[string]any{
		"resource":    name,
		"method":      r.Method,
		"user":        sess.Username,
		"status":      status,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		log.LogErrorWithFields("proxy", "Upstream request failed", fields)
		return
	}
	log.LogInfoWithFields("proxy", "Request proxied", fields)
}

// applyListDefaults fills in the tenant, pagination and filter parameters the
// backend expects on every list call
func (p *ResourceProxy) applyListDefaults(query url.Values, res *config.ResourceConfig) {
	setDefault := func(key, value string) {
		if key != "" && query.Get(key) == "" {
			query.Set(key, value)
		}
	}

	setDefault(p.upstream.TenantParam, p.upstream.DefaultTenant)
	setDefault(p.upstream.PageNumberParam, "1")
	if p.upstream.DefaultPageSize > 0 {
		setDefault(p.upstream.PageSizeParam, strconv.Itoa(p.upstream.DefaultPageSize))
	}

	// The backend treats an empty filter as "match all"
	if _, ok := query[res.IDParam]; !ok {
		query.Set(res.IDParam, "")
	}
	for _, filter := range res.Filters {
		if _, ok := query[filter]; !ok {
			query.Set(filter, "")
		}
	}
}

// inputError is a rejection message safe to show to the caller
type inputError string

func (e inputError) Error() string { return string(e) }

// buildRecordBody decodes a JSON object, checks required fields and stamps
// the audit field with the session user
func buildRecordBody(r *http.Request, res *config.ResourceConfig, stampField, username string) ([]byte, error) {
	raw, err := ioutil.ReadAll(r.Body, MaxRequestBody)
	if errors.Is(err, ioutil.ErrTooLarge) {
		return nil, inputError("Request body too large")
	}
	if err != nil {
		return nil, inputError("Failed to read request body")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil || record == nil {
		return nil, inputError("Request body must be a JSON object")
	}
	if dec.More() {
		return nil, inputError("Request body must be a single JSON object")
	}

	var missing []string
	for _, field := range res.RequiredFields {
		v, ok := record[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, inputError("Missing required fields: " + strings.Join(missing, ", "))
	}

	if stampField != "" {
		record[stampField] = username
	}

	out, err := json.Marshal(record)
	if err != nil {
		return nil, inputError("Request body could not be encoded")
	}
	return out, nil
}

// forward performs the single upstream round trip and writes the outcome.
// The returned status is what the browser received.
func (p *ResourceProxy) forward(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	name string,
	res *config.ResourceConfig,
	query url.Values,
	body []byte,
	accessToken string,
) (int, error) {
	upstreamURL, err := urlutil.JoinPath(p.upstream.BaseURL, res.Path)
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Invalid upstream URL")
		return http.StatusInternalServerError, err
	}
	if encoded := query.Encode(); encoded != "" {
		upstreamURL += "?" + encoded
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, reqBody)
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Failed to create upstream request")
		return http.StatusInternalServerError, fmt.Errorf("failed to create upstream request: %w", err)
	}

	copyRequestHeaders(upstreamReq.Header, r.Header, p.upstream.TokenHeader)
	upstreamReq.Header.Set("Accept", "application/json")
	if body != nil {
		upstreamReq.Header.Set("Content-Type", "application/json")
	}
	p.setToken(upstreamReq.Header, accessToken)

	resp, err := p.httpClient.Do(upstreamReq)
	if err != nil {
		jsonwriter.WriteServiceUnavailable(w, "Failed to reach backend service")
		return http.StatusServiceUnavailable, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details := ioutil.ReadLimited(resp.Body, maxErrorDetails)
		jsonwriter.WriteErrorResponse(w, resp.StatusCode, jsonwriter.ErrorResponse{
			Error:   "upstream_error",
			Message: failureMessage(r.Method, name),
			Details: details,
		})
		return resp.StatusCode, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	payload, err := ioutil.ReadAll(resp.Body, MaxResponseBody)
	if err != nil {
		jsonwriter.WriteBadGateway(w, "Failed to read backend response")
		return http.StatusBadGateway, fmt.Errorf("reading upstream response: %w", err)
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		w.WriteHeader(resp.StatusCode)
		return resp.StatusCode, nil
	}
	if !json.Valid(payload) {
		jsonwriter.WriteBadGateway(w, "Backend returned an invalid response")
		return http.StatusBadGateway, fmt.Errorf("upstream returned non-JSON body (content-type %q)", resp.Header.Get("Content-Type"))
	}

	jsonwriter.WriteRaw(w, resp.StatusCode, payload)
	return resp.StatusCode, nil
}

// setToken attaches the access token the way the backend expects it
func (p *ResourceProxy) setToken(h http.Header, accessToken string) {
	if strings.EqualFold(p.upstream.TokenHeader, "Authorization") {
		h.Set("Authorization", "Bearer "+accessToken)
		return
	}
	h.Set(p.upstream.TokenHeader, accessToken)
}

func failureMessage(method, resource string) string {
	verb := "process"
	switch method {
	case http.MethodGet:
		verb = "fetch"
	case http.MethodPost:
		verb = "create"
	case http.MethodPut:
		verb = "update"
	case http.MethodDelete:
		verb = "delete"
	}
	return fmt.Sprintf("Failed to %s %s", verb, resource)
}
