package geoip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"presence/backend/model"
)

const (
	defaultBaseURL       = "http://ip-api.com/json"
	defaultLookupTimeout = 3 * time.Second
	defaultCacheTTL      = time.Hour

	providerFields = "status,country,countryCode,region,regionName"
)

type (
	Config struct {
		Logger *zerolog.Logger
		// BaseURL of the ip-api compatible provider, without trailing slash.
		BaseURL string
		Timeout time.Duration
		// CacheTTL bounds how long a successful classification is reused.
		CacheTTL time.Duration
		// NegativeTTL bounds unknown results; zero means CacheTTL/4.
		NegativeTTL time.Duration
	}

	// Resolver maps a source address to a coarse geographic classification.
	// Lookups are best-effort: every failure mode degrades to unknown.
	Resolver struct {
		logger  zerolog.Logger
		client  *http.Client
		baseURL string
		timeout time.Duration
		ttl     time.Duration
		negTTL  time.Duration

		mx       sync.Mutex
		cache    map[string]cacheEntry
		inflight map[string]*lookup

		now func() time.Time
	}

	cacheEntry struct {
		loc    model.Location
		expiry time.Time
	}

	// lookup coalesces concurrent cache misses for one address into a
	// single remote call.
	lookup struct {
		done chan struct{}
		loc  model.Location
	}

	// providerPayload is the subset of the ip-api JSON response we consume.
	providerPayload struct {
		Status      string `json:"status"`
		Country     string `json:"country"`
		CountryCode string `json:"countryCode"`
		Region      string `json:"region"`
		RegionName  string `json:"regionName"`
	}
)

func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		logger:   cfg.Logger.With().Str("component", "geoip").Logger(),
		baseURL:  cfg.BaseURL,
		timeout:  cfg.Timeout,
		ttl:      cfg.CacheTTL,
		negTTL:   cfg.NegativeTTL,
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]*lookup),
		now:      time.Now,
	}
	if r.baseURL == "" {
		r.baseURL = defaultBaseURL
	}
	if r.timeout == 0 {
		r.timeout = defaultLookupTimeout
	}
	if r.ttl == 0 {
		r.ttl = defaultCacheTTL
	}
	if r.negTTL == 0 {
		r.negTTL = r.ttl / 4
	}
	r.client = &http.Client{Timeout: r.timeout}
	return r
}

// Resolve classifies addr. Private, loopback, link-local, and unparsable
// addresses short-circuit to unknown without any remote call; this is a
// hard privacy policy, not an optimization, so it runs before the cache.
func (r *Resolver) Resolve(ctx context.Context, addr string) model.Location {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !routable(ip) {
		return model.UnknownLocation(true)
	}
	key := ip.String()

	r.mx.Lock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expiry) {
		r.mx.Unlock()
		return entry.loc
	}
	if lk, ok := r.inflight[key]; ok {
		r.mx.Unlock()
		select {
		case <-lk.done:
			return lk.loc
		case <-ctx.Done():
			return model.UnknownLocation(false)
		}
	}
	lk := &lookup{done: make(chan struct{})}
	r.inflight[key] = lk
	r.mx.Unlock()

	loc := r.fetch(ctx, key)

	ttl := r.ttl
	if loc.Kind == model.LocationKindUnknown {
		ttl = r.negTTL
	}
	r.mx.Lock()
	r.cache[key] = cacheEntry{loc: loc, expiry: r.now().Add(ttl)}
	delete(r.inflight, key)
	r.mx.Unlock()

	lk.loc = loc
	close(lk.done)
	return loc
}

func (r *Resolver) fetch(ctx context.Context, ip string) model.Location {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	url := r.baseURL + "/" + ip + "?fields=" + providerFields
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger.Error().Err(err).Str("ip", ip).Msg("failed to build lookup request")
		return model.UnknownLocation(true)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("ip", ip).Msg("geolocation lookup failed")
		return model.UnknownLocation(true)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug().Int("status", resp.StatusCode).Str("ip", ip).Msg("geolocation lookup non-success")
		return model.UnknownLocation(true)
	}

	var payload providerPayload
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		r.logger.Debug().Err(err).Str("ip", ip).Msg("malformed geolocation payload")
		return model.UnknownLocation(true)
	}

	loc := classify(payload)
	r.logger.Debug().Str("ip", ip).Str("kind", loc.Kind).Msg("address resolved")
	return loc
}

func routable(ip netip.Addr) bool {
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsUnspecified()
}
