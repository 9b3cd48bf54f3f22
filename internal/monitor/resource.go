package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// DefaultResourceInterval is how often the resource sampler polls by default.
const DefaultResourceInterval = 10 * time.Second

const maxResourceBody = 1 << 20

// ResourceOptions configure a Resource sampler.
type ResourceOptions struct {
	// URL returns a JSON document describing the system under test, such as
	// a metrics or status endpoint.
	URL string
	// Fields maps series names to gjson paths into that document.
	Fields  map[string]string
	Headers map[string]string
	Client  *http.Client
	Logger  *zap.Logger
	Now     func() time.Time
}

// Resource polls an HTTP endpoint and records numeric fields of its JSON body
// as "resource.<name>" series.
type Resource struct {
	url     string
	fields  []resourceField
	headers http.Header
	client  *http.Client
	log     *zap.Logger
	now     func() time.Time
	store   *Store
}

type resourceField struct {
	name string
	path string
}

func NewResource(opts ResourceOptions, store *Store) (*Resource, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("resource sampler: url is required")
	}
	if len(opts.Fields) == 0 {
		return nil, errors.New("resource sampler: at least one field is required")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	fields := make([]resourceField, 0, len(opts.Fields))
	for name, path := range opts.Fields {
		fields = append(fields, resourceField{name: name, path: normalizePath(path)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	headers := http.Header{}
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	return &Resource{
		url:     opts.URL,
		fields:  fields,
		headers: headers,
		client:  opts.Client,
		log:     opts.Logger.With(zap.String("component", "resource-monitor")),
		now:     opts.Now,
		store:   store,
	}, nil
}

// Sample fetches the document once and appends every field it can read.
// Missing or non-numeric fields are reported in the returned error while the
// others are still recorded.
func (r *Resource) Sample(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("resource sampler: %w", err)
	}
	req.Header = r.headers.Clone()
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("resource sampler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResourceBody))
		return fmt.Errorf("resource sampler: %s returned status %d", r.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBody))
	if err != nil {
		return fmt.Errorf("resource sampler: read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("resource sampler: %s did not return valid JSON", r.url)
	}

	now := r.now()
	var missing []string
	for _, f := range r.fields {
		v, ok := numeric(gjson.GetBytes(body, f.path))
		if !ok {
			missing = append(missing, f.name)
			continue
		}
		r.store.AddResource(f.name, Point{Time: now, Value: v})
	}
	r.log.Debug("resource sampled", zap.Int("fields", len(r.fields)-len(missing)))

	if len(missing) > 0 {
		return fmt.Errorf("resource sampler: fields not found or not numeric: %s", strings.Join(missing, ", "))
	}
	return nil
}

func numeric(res gjson.Result) (float64, bool) {
	switch res.Type {
	case gjson.Number:
		return res.Num, true
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
		return v, err == nil
	default:
		return 0, false
	}
}

// normalizePath accepts "$.a.b" as well as gjson's native "a.b".
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "$":
		return "@this"
	case strings.HasPrefix(path, "$."):
		return path[2:]
	default:
		return path
	}
}
