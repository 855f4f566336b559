package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/provider/domain"
)

// Factory builds adapters for clusters running the reference "openapi"
// backend, a plain JSON-over-HTTP infrastructure API.
type Factory struct {
	httpClient *http.Client
}

func NewFactory() *Factory {
	return &Factory{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (f *Factory) Backend() string { return "openapi" }

func (f *Factory) NewProvisioner(desc clusterdomain.Descriptor) (domain.Provisioner, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(desc.Endpoint), "/")
	if endpoint == "" {
		return nil, fault.Newf(fault.ProviderError, "cluster %s has no endpoint", desc.Name)
	}
	return &Adapter{
		cluster:  desc.Name,
		endpoint: endpoint,
		token:    desc.Token,
		project:  desc.Project,
		client:   f.httpClient,
	}, nil
}

// Adapter talks to one cluster's backend API. Every backend failure is
// normalized at this boundary; callers only ever see fault errors.
type Adapter struct {
	cluster  string
	endpoint string
	token    string
	project  string
	client   *http.Client
}

type resourcePayload struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Addresses map[string]string `json:"addresses"`
	CreatedAt time.Time         `json:"created_at"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type listPayload struct {
	Items      []resourcePayload `json:"items"`
	NextMarker string            `json:"next_marker"`
}

func kindPath(kind domain.ResourceKind) string {
	switch kind {
	case domain.KindCompute:
		return "servers"
	case domain.KindNetwork:
		return "networks"
	case domain.KindLoadBalancer:
		return "loadbalancers"
	case domain.KindDatabase:
		return "databases"
	case domain.KindKubernetes:
		return "clusters"
	case domain.KindKeypair:
		return "keypairs"
	case domain.KindFloatingIP:
		return "floatingips"
	default:
		return ""
	}
}

func (a *Adapter) create(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	path := kindPath(spec.Kind)
	if path == "" {
		return domain.Ref{}, fault.Newf(fault.ProviderError, "unsupported resource kind %q", spec.Kind)
	}

	body := map[string]any{
		"name":    spec.Name,
		"project": a.projectOr(spec.Project),
		"options": spec.Options,
	}
	if spec.NetworkID != "" {
		body["network_id"] = spec.NetworkID
	}

	var out resourcePayload
	if err := a.do(ctx, http.MethodPost, "/v2/"+path, body, &out); err != nil {
		return domain.Ref{}, err
	}
	return refOf(out, spec.Kind), nil
}

func (a *Adapter) get(ctx context.Context, kind domain.ResourceKind, id string) (*domain.Ref, error) {
	path := kindPath(kind)
	if path == "" || strings.TrimSpace(id) == "" {
		return nil, fault.New(fault.ProviderError, "invalid resource reference")
	}

	var out resourcePayload
	err := a.do(ctx, http.MethodGet, "/v2/"+path+"/"+url.PathEscape(id), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	ref := refOf(out, kind)
	return &ref, nil
}

func (a *Adapter) delete(ctx context.Context, kind domain.ResourceKind, id string) error {
	path := kindPath(kind)
	if path == "" || strings.TrimSpace(id) == "" {
		return fault.New(fault.ProviderError, "invalid resource reference")
	}

	err := a.do(ctx, http.MethodDelete, "/v2/"+path+"/"+url.PathEscape(id), nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	// already absent counts as deleted
	return nil
}

func (a *Adapter) CreateServer(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindCompute
	return a.create(ctx, spec)
}

func (a *Adapter) GetServer(ctx context.Context, id string) (*domain.Ref, error) {
	return a.get(ctx, domain.KindCompute, id)
}

func (a *Adapter) ListServers(ctx context.Context, filter domain.ListFilter) (domain.Page, error) {
	query := url.Values{}
	query.Set("project", a.projectOr(filter.Project))
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", filter.Limit))
	}
	if filter.Marker != "" {
		query.Set("marker", filter.Marker)
	}

	var out listPayload
	if err := a.do(ctx, http.MethodGet, "/v2/servers?"+query.Encode(), nil, &out); err != nil {
		return domain.Page{}, err
	}

	page := domain.Page{NextMarker: out.NextMarker}
	for _, item := range out.Items {
		page.Items = append(page.Items, refOf(item, domain.KindCompute))
	}
	return page, nil
}

func (a *Adapter) DeleteServer(ctx context.Context, id string) error {
	return a.delete(ctx, domain.KindCompute, id)
}

func (a *Adapter) PerformAction(ctx context.Context, id string, action domain.Action, params map[string]string) (domain.Ref, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Ref{}, fault.New(fault.ProviderError, "invalid resource reference")
	}

	body := map[string]any{"action": string(action)}
	if len(params) > 0 {
		body["params"] = params
	}

	var out resourcePayload
	if err := a.do(ctx, http.MethodPost, "/v2/servers/"+url.PathEscape(id)+"/action", body, &out); err != nil {
		return domain.Ref{}, err
	}
	return refOf(out, domain.KindCompute), nil
}

func (a *Adapter) CreateNetwork(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindNetwork
	return a.create(ctx, spec)
}

func (a *Adapter) GetNetwork(ctx context.Context, id string) (*domain.Ref, error) {
	return a.get(ctx, domain.KindNetwork, id)
}

func (a *Adapter) DeleteNetwork(ctx context.Context, id string) error {
	return a.delete(ctx, domain.KindNetwork, id)
}

// Floating IP allocation and attach are the only calls that retry here: the
// backend reports a transient busy state while an address pool or port is
// settling, and a short bounded retry rides it out.
const floatingIPAttempts = 3

var floatingIPBackoff = 2 * time.Second

func (a *Adapter) AllocateFloatingIP(ctx context.Context, project string) (domain.Ref, error) {
	var lastErr error
	for attempt := 0; attempt < floatingIPAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.Ref{}, fault.Wrap(fault.ProviderError, "allocate floating ip canceled", ctx.Err())
			case <-time.After(floatingIPBackoff):
			}
		}

		var out resourcePayload
		err := a.do(ctx, http.MethodPost, "/v2/floatingips", map[string]any{
			"project": a.projectOr(project),
		}, &out)
		if err == nil {
			return refOf(out, domain.KindFloatingIP), nil
		}
		if !isBusy(err) {
			return domain.Ref{}, err
		}
		lastErr = err
	}
	return domain.Ref{}, lastErr
}

func (a *Adapter) AttachFloatingIP(ctx context.Context, ipID, serverID string) error {
	var lastErr error
	for attempt := 0; attempt < floatingIPAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fault.Wrap(fault.ProviderError, "attach floating ip canceled", ctx.Err())
			case <-time.After(floatingIPBackoff):
			}
		}

		err := a.do(ctx, http.MethodPost, "/v2/floatingips/"+url.PathEscape(ipID)+"/attach", map[string]any{
			"server_id": serverID,
		}, nil)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (a *Adapter) CreateLoadBalancer(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindLoadBalancer
	return a.create(ctx, spec)
}

func (a *Adapter) GetLoadBalancer(ctx context.Context, id string) (*domain.Ref, error) {
	return a.get(ctx, domain.KindLoadBalancer, id)
}

func (a *Adapter) DeleteLoadBalancer(ctx context.Context, id string) error {
	return a.delete(ctx, domain.KindLoadBalancer, id)
}

func (a *Adapter) CreateDatabase(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindDatabase
	return a.create(ctx, spec)
}

func (a *Adapter) GetDatabase(ctx context.Context, id string) (*domain.Ref, error) {
	return a.get(ctx, domain.KindDatabase, id)
}

func (a *Adapter) DeleteDatabase(ctx context.Context, id string) error {
	return a.delete(ctx, domain.KindDatabase, id)
}

func (a *Adapter) CreateCluster(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindKubernetes
	return a.create(ctx, spec)
}

func (a *Adapter) GetCluster(ctx context.Context, id string) (*domain.Ref, error) {
	return a.get(ctx, domain.KindKubernetes, id)
}

func (a *Adapter) DeleteCluster(ctx context.Context, id string) error {
	return a.delete(ctx, domain.KindKubernetes, id)
}

func (a *Adapter) CreateKeypair(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindKeypair
	return a.create(ctx, spec)
}

func (a *Adapter) DeleteKeypair(ctx context.Context, id string) error {
	return a.delete(ctx, domain.KindKeypair, id)
}

func (a *Adapter) projectOr(project string) string {
	if strings.TrimSpace(project) != "" {
		return project
	}
	return a.project
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fault.Wrap(fault.ProviderError, "encode request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, reader)
	if err != nil {
		return fault.Wrap(fault.ProviderError, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.ProviderError, fmt.Sprintf("cluster %s unreachable", a.cluster), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return a.normalizeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fault.Wrap(fault.ProviderError, "decode response", err)
	}
	return nil
}

// normalizeError converts a backend error response into the fault taxonomy,
// preserving the backend's message as cause for logging only.
func (a *Adapter) normalizeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload errorPayload
	_ = json.Unmarshal(raw, &payload)
	backendMsg := payload.Message
	if backendMsg == "" {
		backendMsg = strings.TrimSpace(string(raw))
	}
	cause := fmt.Errorf("backend %s (%d): %s", a.cluster, resp.StatusCode, backendMsg)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fault.Wrap(fault.ProviderError, "resource not found", errors.Join(errNotFound, cause))
	case http.StatusConflict, http.StatusTooManyRequests:
		return fault.Wrap(fault.ProviderError, "backend busy", errors.Join(domain.ErrResourceBusy, cause))
	case http.StatusForbidden:
		if payload.Code == "quota_exceeded" {
			return fault.Wrap(fault.ProviderError, "quota exceeded", errors.Join(domain.ErrQuotaExceeded, cause))
		}
		return fault.Wrap(fault.ProviderError, "backend rejected credentials", cause)
	default:
		return fault.Wrap(fault.ProviderError, "backend call failed", cause)
	}
}

var errNotFound = errors.New("backend_not_found")

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func isBusy(err error) bool {
	return errors.Is(err, domain.ErrResourceBusy)
}

func refOf(p resourcePayload, kind domain.ResourceKind) domain.Ref {
	status := p.Status
	if status == "" {
		status = domain.StatusUnknown
	}
	return domain.Ref{
		ID:        p.ID,
		Kind:      kind,
		Name:      p.Name,
		Status:    status,
		Addresses: p.Addresses,
		CreatedAt: p.CreatedAt,
	}
}
