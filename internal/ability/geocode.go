package ability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/langchou/locationd/internal/metrics"
	"github.com/langchou/locationd/internal/models"
)

// 逆地理编码服务提供商
const (
	ProviderAmap      = "amap"
	ProviderNominatim = "nominatim"
)

const (
	defaultAmapURL      = "https://restapi.amap.com/v3/geocode/regeo"
	defaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"
)

// ErrInvalidCoordinate 经纬度超出范围
var ErrInvalidCoordinate = errors.New("geocode: coordinate out of range")

// GeocoderOptions 逆地理编码配置
type GeocoderOptions struct {
	AmapAPIKey   string
	AmapURL      string
	NominatimURL string
	CacheTTL     time.Duration
	MinInterval  time.Duration // Nominatim 两次请求的最小间隔
	HTTPClient   *http.Client
}

// Geocoder 地理编码能力
// 配置了高德 Key 时使用高德，否则使用 Nominatim
type Geocoder struct {
	opts     GeocoderOptions
	logger   *zap.Logger
	recorder *metrics.Recorder
	cache    *cache.Cache

	limitMu     sync.Mutex
	lastRequest time.Time
}

// NewGeocoder 创建地理编码能力
func NewGeocoder(opts GeocoderOptions, logger *zap.Logger, recorder *metrics.Recorder) *Geocoder {
	if opts.AmapURL == "" {
		opts.AmapURL = defaultAmapURL
	}
	if opts.NominatimURL == "" {
		opts.NominatimURL = defaultNominatimURL
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Geocoder{
		opts:     opts,
		logger:   logger,
		recorder: recorder,
		cache:    cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// Provider 当前使用的服务提供商
func (g *Geocoder) Provider() string {
	if g.opts.AmapAPIKey != "" {
		return ProviderAmap
	}
	return ProviderNominatim
}

// ReverseGeocode 根据经纬度获取结构化地址，结果按约 11 米精度缓存
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("lat=%f lng=%f: %w", lat, lng, ErrInvalidCoordinate)
	}

	key := fmt.Sprintf("%.4f,%.4f", lat, lng)
	provider := g.Provider()
	if v, ok := g.cache.Get(key); ok {
		g.recorder.RecordGeocode(provider, true)
		addr := *v.(*models.Address)
		return &addr, nil
	}
	g.recorder.RecordGeocode(provider, false)

	var addr *models.Address
	var err error
	if provider == ProviderAmap {
		addr, err = g.amap(ctx, lat, lng)
	} else {
		addr, err = g.nominatim(ctx, lat, lng)
	}
	if err != nil {
		return nil, err
	}

	addr.Latitude = lat
	addr.Longitude = lng
	addr.Provider = provider
	g.cache.SetDefault(key, addr)

	g.logger.Debug("Reverse geocoded",
		zap.String("provider", provider),
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", addr.FormattedAddress))

	result := *addr
	return &result, nil
}

// CacheSize 缓存条目数
func (g *Geocoder) CacheSize() int {
	return g.cache.ItemCount()
}

// ClearCache 清空缓存
func (g *Geocoder) ClearCache() {
	g.cache.Flush()
}

type amapResponse struct {
	Status    string `json:"status"`
	Info      string `json:"info"`
	InfoCode  string `json:"infocode"`
	Regeocode *struct {
		FormattedAddress json.RawMessage `json:"formatted_address"`
		AddressComponent struct {
			Country      json.RawMessage `json:"country"`
			Province     json.RawMessage `json:"province"`
			City         json.RawMessage `json:"city"`
			District     json.RawMessage `json:"district"`
			Township     json.RawMessage `json:"township"`
			StreetNumber struct {
				Street json.RawMessage `json:"street"`
				Number json.RawMessage `json:"number"`
			} `json:"streetNumber"`
		} `json:"addressComponent"`
	} `json:"regeocode"`
}

func (g *Geocoder) amap(ctx context.Context, lat, lng float64) (*models.Address, error) {
	q := url.Values{}
	q.Set("key", g.opts.AmapAPIKey)
	// 高德要求经度在前
	q.Set("location", fmt.Sprintf("%.6f,%.6f", lng, lat))
	q.Set("extensions", "base")
	q.Set("output", "JSON")

	var result amapResponse
	if err := g.getJSON(ctx, g.opts.AmapURL+"?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("amap regeo: %w", err)
	}
	if result.Status != "1" {
		return nil, fmt.Errorf("amap api error: %s (code: %s)", result.Info, result.InfoCode)
	}
	if result.Regeocode == nil {
		return nil, fmt.Errorf("amap api: no regeocode result")
	}

	comp := result.Regeocode.AddressComponent
	return &models.Address{
		FormattedAddress: rawString(result.Regeocode.FormattedAddress),
		Country:          rawString(comp.Country),
		Province:         rawString(comp.Province),
		City:             rawString(comp.City),
		District:         rawString(comp.District),
		Township:         rawString(comp.Township),
		Street:           rawString(comp.StreetNumber.Street),
		StreetNumber:     rawString(comp.StreetNumber.Number),
	}, nil
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road        string `json:"road"`
		HouseNumber string `json:"house_number"`
		Suburb      string `json:"suburb"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		County      string `json:"county"`
		State       string `json:"state"`
		Country     string `json:"country"`
	} `json:"address"`
}

func (g *Geocoder) nominatim(ctx context.Context, lat, lng float64) (*models.Address, error) {
	if err := g.waitTurn(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lng))
	q.Set("format", "json")

	var result nominatimResponse
	if err := g.getJSON(ctx, g.opts.NominatimURL+"?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("nominatim reverse: %w", err)
	}

	city := result.Address.City
	if city == "" {
		city = result.Address.Town
	}
	if city == "" {
		city = result.Address.Village
	}
	return &models.Address{
		FormattedAddress: result.DisplayName,
		Country:          result.Address.Country,
		Province:         result.Address.State,
		City:             city,
		District:         result.Address.County,
		Township:         result.Address.Suburb,
		Street:           result.Address.Road,
		StreetNumber:     result.Address.HouseNumber,
	}, nil
}

// waitTurn Nominatim 使用政策要求限流
func (g *Geocoder) waitTurn(ctx context.Context) error {
	g.limitMu.Lock()
	defer g.limitMu.Unlock()

	if wait := g.opts.MinInterval - time.Since(g.lastRequest); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.lastRequest = time.Now()
	return nil
}

func (g *Geocoder) getJSON(ctx context.Context, apiURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "locationd/1.0 (location subsystem)")

	resp, err := g.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// rawString 高德的字段可能是字符串，也可能是空数组 []
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
