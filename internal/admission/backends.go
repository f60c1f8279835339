// internal/admission/backends.go
package admission

import (
	"context"
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoBackend is returned when every browser backend is at capacity.
	ErrNoBackend = errors.New("all browser instances are busy")
	// ErrUnknownBackend is returned when a traffic update names a backend that is not registered.
	ErrUnknownBackend = errors.New("unknown browser backend")
)

// Backend is one browser instance sessions can be assigned to. The registry stores
// it as JSON under its key in a Redis hash.
type Backend struct {
	Key        string `json:"-"`
	WSEndpoint string `json:"ws_endpoint"`
	Traffic    int    `json:"traffic"`
}

// registerScript sets the endpoint of ARGV[1], keeping its traffic when it already exists.
var registerScript = redis.NewScript(`
local traffic = 0
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local ok, entry = pcall(cjson.decode, cur)
  if ok and type(entry) == 'table' and type(entry.traffic) == 'number' then
    traffic = entry.traffic
  end
end
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode({ws_endpoint = ARGV[2], traffic = traffic}))
return traffic
`)

// adjustScript adds ARGV[2] to the traffic of ARGV[1] if the result stays within [0, ARGV[3]].
// Returns -1 for an unknown backend, 0 when the bound would be violated, 1 on update.
var adjustScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
  return -1
end
local entry = cjson.decode(cur)
local traffic = entry.traffic + tonumber(ARGV[2])
if traffic < 0 or traffic > tonumber(ARGV[3]) then
  return 0
end
entry.traffic = traffic
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(entry))
return 1
`)

// acquireScript picks the least loaded backend with room for one more session and
// increments it. Ties go to the first key in sorted order. Returns nil when none fits.
var acquireScript = redis.NewScript(`
local flat = redis.call('HGETALL', KEYS[1])
local capacity = tonumber(ARGV[1])
local keys, values = {}, {}
for i = 1, #flat, 2 do
  keys[#keys + 1] = flat[i]
  values[flat[i]] = flat[i + 1]
end
table.sort(keys)
local bestKey, best, bestTraffic = nil, nil, nil
for _, k in ipairs(keys) do
  local ok, entry = pcall(cjson.decode, values[k])
  if ok and type(entry) == 'table' and type(entry.traffic) == 'number' then
    local t = entry.traffic
    if t >= 0 and t + 1 <= capacity and (bestTraffic == nil or t < bestTraffic) then
      bestKey, best, bestTraffic = k, entry, t
    end
  end
end
if bestKey == nil then
  return false
end
best.traffic = bestTraffic + 1
redis.call('HSET', KEYS[1], bestKey, cjson.encode(best))
return {bestKey, best.ws_endpoint, best.traffic}
`)

// BackendRegistry is the shared map of browser backends and their live traffic.
// Every mutation runs as a single Lua script, so concurrent sessions never push a
// backend outside [0, capacity].
type BackendRegistry struct {
	client   redis.Cmdable
	key      string
	capacity int
	logger   *zap.Logger
}

// NewBackendRegistry manages the hash at key; each backend accepts at most capacity sessions.
func NewBackendRegistry(client redis.Cmdable, key string, capacity int, logger *zap.Logger) (*BackendRegistry, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("backend capacity must be positive, got %d", capacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendRegistry{client: client, key: key, capacity: capacity, logger: logger.Named("admission.backends")}, nil
}

// Capacity returns the per-backend session limit.
func (r *BackendRegistry) Capacity() int { return r.capacity }

// Register adds or updates a backend. An existing backend keeps its traffic.
func (r *BackendRegistry) Register(ctx context.Context, key, wsEndpoint string) error {
	if key == "" || wsEndpoint == "" {
		return errors.New("backend key and endpoint are required")
	}
	traffic, err := registerScript.Run(ctx, r.client, []string{r.key}, key, wsEndpoint).Int()
	if err != nil {
		return fmt.Errorf("failed to register backend %s: %w", key, err)
	}
	r.logger.Info("Backend registered.", zap.String("backend", key), zap.String("endpoint", wsEndpoint), zap.Int("traffic", traffic))
	return nil
}

// List returns every backend ordered by key. Entries that fail to decode are skipped.
func (r *BackendRegistry) List(ctx context.Context) ([]Backend, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load backends: %w", err)
	}
	backends := make([]Backend, 0, len(raw))
	for key, val := range raw {
		var b Backend
		if err := json.UnmarshalFromString(val, &b); err != nil {
			r.logger.Warn("Skipping malformed backend entry.", zap.String("backend", key), zap.Error(err))
			continue
		}
		b.Key = key
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i].Key < backends[j].Key })
	return backends, nil
}

// Select returns the least loaded backend with room for one more session, without
// reserving it. Use Acquire to select and reserve atomically.
func (r *BackendRegistry) Select(ctx context.Context) (Backend, error) {
	backends, err := r.List(ctx)
	if err != nil {
		return Backend{}, err
	}
	return pickLeastLoaded(backends, r.capacity)
}

func pickLeastLoaded(backends []Backend, capacity int) (Backend, error) {
	best := -1
	for i, b := range backends {
		if b.Traffic < 0 || b.Traffic+1 > capacity {
			continue
		}
		if best == -1 || b.Traffic < backends[best].Traffic {
			best = i
		}
	}
	if best == -1 {
		return Backend{}, ErrNoBackend
	}
	return backends[best], nil
}

// Increment adds one session to the backend. It reports false, without changing
// anything, when the backend is already at capacity.
func (r *BackendRegistry) Increment(ctx context.Context, key string) (bool, error) {
	return r.adjust(ctx, key, 1)
}

// Decrement removes one session from the backend. It reports false, without
// changing anything, when the traffic is already zero.
func (r *BackendRegistry) Decrement(ctx context.Context, key string) (bool, error) {
	return r.adjust(ctx, key, -1)
}

func (r *BackendRegistry) adjust(ctx context.Context, key string, delta int) (bool, error) {
	res, err := adjustScript.Run(ctx, r.client, []string{r.key}, key, delta, r.capacity).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update traffic of backend %s: %w", key, err)
	}
	switch res {
	case -1:
		return false, fmt.Errorf("%w: %s", ErrUnknownBackend, key)
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

// Acquire selects the least loaded backend and reserves one session on it in a single step.
func (r *BackendRegistry) Acquire(ctx context.Context) (Backend, error) {
	res, err := acquireScript.Run(ctx, r.client, []string{r.key}, r.capacity).Slice()
	if errors.Is(err, redis.Nil) {
		return Backend{}, ErrNoBackend
	}
	if err != nil {
		return Backend{}, fmt.Errorf("failed to acquire backend: %w", err)
	}
	if len(res) != 3 {
		return Backend{}, fmt.Errorf("unexpected acquire reply of %d elements", len(res))
	}
	key, _ := res[0].(string)
	endpoint, _ := res[1].(string)
	traffic, _ := res[2].(int64)
	b := Backend{Key: key, WSEndpoint: endpoint, Traffic: int(traffic)}
	r.logger.Debug("Backend acquired.", zap.String("backend", b.Key), zap.Int("traffic", b.Traffic))
	return b, nil
}

// Release returns the session reserved by Acquire. A release that would take the
// traffic below zero is logged and ignored.
func (r *BackendRegistry) Release(ctx context.Context, key string) error {
	ok, err := r.Decrement(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Warn("Backend traffic already at zero on release.", zap.String("backend", key))
	}
	return nil
}
