package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultStoreKeyPrefix = "lead:"
	transcriptKeySuffix   = ":transcript"
	maxResponseSizeBytes  = 2 << 20

	hashCreatedAt = "created_at"
	hashUpdatedAt = "updated_at"

	scriptMissing = -1
)

// Every write runs as one Lua script so the existence check and the write
// happen atomically on the Redis side. RPUSH gives a server-side append, so
// concurrent turns for one lead cannot overwrite each other.
const (
	createScript = `
redis.call('HSET', KEYS[1], 'created_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
  redis.call('EXPIRE', KEYS[2], ttl)
end
return 1`

	appendScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local n = redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
  redis.call('EXPIRE', KEYS[2], ttl)
end
return n`

	applyScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if #ARGV > 2 then
  for i = 3, #ARGV, 2 do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
  end
  redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
  local ttl = tonumber(ARGV[2])
  if ttl > 0 then
    redis.call('EXPIRE', KEYS[1], ttl)
    redis.call('EXPIRE', KEYS[2], ttl)
  end
end
return 1`
)

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

// WithTTL expires idle leads. Zero keeps them forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore persists leads in Upstash Redis via REST. A lead is a
// hash (fields + timestamps) plus a list holding the JSON-encoded transcript.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
	now        func() time.Time
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `split_words:"true" required:"true"`
	Token   string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"10s"`
	TTL     time.Duration `split_words:"true" default:"0s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		keyPrefix: defaultStoreKeyPrefix,
		ttl:       cfg.TTL,
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	return store, nil
}

func (s *UpstashRedisStore) CreateSession(ctx context.Context, initial Turn) (string, error) {
	if err := ValidateTurn(initial); err != nil {
		return "", err
	}
	payload, err := json.Marshal(initial)
	if err != nil {
		return "", fmt.Errorf("marshal turn: %w", err)
	}

	id := newLeadID()
	key, transcriptKey, err := s.redisKeys(id)
	if err != nil {
		return "", err
	}

	_, err = s.exec(ctx, []any{
		"EVAL", createScript, 2, key, transcriptKey,
		string(payload), s.timestamp(), ttlSeconds(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("%w: create lead: %v", ErrStoreUnavailable, err)
	}
	return id, nil
}

func (s *UpstashRedisStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	if err := ValidateTurn(turn); err != nil {
		return err
	}
	key, transcriptKey, err := s.redisKeys(id)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	resp, err := s.exec(ctx, []any{
		"EVAL", appendScript, 2, key, transcriptKey,
		string(payload), s.timestamp(), ttlSeconds(s.ttl),
	})
	if err != nil {
		return fmt.Errorf("%w: append turn: %v", ErrStoreUnavailable, err)
	}
	return scriptResult(resp)
}

func (s *UpstashRedisStore) ApplyFields(ctx context.Context, id string, fields Fields) error {
	key, transcriptKey, err := s.redisKeys(id)
	if err != nil {
		return err
	}

	cmd := []any{
		"EVAL", applyScript, 2, key, transcriptKey,
		s.timestamp(), ttlSeconds(s.ttl),
	}
	for _, kv := range fields.Values() {
		cmd = append(cmd, string(kv.Key), kv.Value)
	}

	resp, err := s.exec(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: apply fields: %v", ErrStoreUnavailable, err)
	}
	return scriptResult(resp)
}

func (s *UpstashRedisStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	key, transcriptKey, err := s.redisKeys(id)
	if err != nil {
		return nil, err
	}

	results, err := s.pipeline(ctx, [][]any{
		{"HGETALL", key},
		{"LRANGE", transcriptKey, 0, -1},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get lead: %v", ErrStoreUnavailable, err)
	}
	if len(results) != 2 {
		return nil, fmt.Errorf("%w: get lead: unexpected pipeline size %d", ErrStoreUnavailable, len(results))
	}

	var hash []string
	if err := json.Unmarshal(results[0].Result, &hash); err != nil {
		return nil, fmt.Errorf("decode lead hash: %w", err)
	}
	if len(hash) == 0 {
		return nil, ErrSessionNotFound
	}

	var encodedTurns []string
	if err := json.Unmarshal(results[1].Result, &encodedTurns); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}

	out := &Lead{ID: strings.TrimSpace(id)}
	for i := 0; i+1 < len(hash); i += 2 {
		name, value := hash[i], hash[i+1]
		switch name {
		case hashCreatedAt:
			out.CreatedAt = parseTimestamp(value)
		case hashUpdatedAt:
			out.UpdatedAt = parseTimestamp(value)
		default:
			if k, err := ParseFieldKey(name); err == nil {
				_ = out.Fields.Set(k, value)
			}
		}
	}

	out.Transcript = make([]Turn, 0, len(encodedTurns))
	for _, raw := range encodedTurns {
		var turn Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		out.Transcript = append(out.Transcript, turn)
	}

	return out, nil
}

func (s *UpstashRedisStore) Close() error {
	return nil
}

func (s *UpstashRedisStore) redisKeys(id string) (string, string, error) {
	id, err := normalizeID(id)
	if err != nil {
		return "", "", err
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	key := prefix + id
	return key, key + transcriptKeySuffix, nil
}

func (s *UpstashRedisStore) timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	raw, err := s.post(ctx, s.baseURL, command)
	if err != nil {
		return nil, err
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func (s *UpstashRedisStore) pipeline(ctx context.Context, commands [][]any) ([]redisRESTResponse, error) {
	if len(commands) == 0 {
		return nil, errors.New("empty redis pipeline")
	}

	raw, err := s.post(ctx, s.baseURL+"/pipeline", commands)
	if err != nil {
		return nil, err
	}

	var parsed []redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis pipeline response: %w", err)
	}
	for i, r := range parsed {
		if r.Error != "" {
			return nil, fmt.Errorf("pipeline command %d: %s", i, r.Error)
		}
	}
	return parsed, nil
}

func (s *UpstashRedisStore) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if strings.TrimSpace(s.baseURL) == "" {
		return nil, errors.New("empty redis url")
	}
	if strings.TrimSpace(s.token) == "" {
		return nil, errors.New("empty redis token")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func scriptResult(resp *redisRESTResponse) error {
	n, err := strconv.ParseInt(strings.TrimSpace(string(resp.Result)), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unexpected script result %s", ErrStoreUnavailable, string(resp.Result))
	}
	if n == scriptMissing {
		return ErrSessionNotFound
	}
	return nil
}

func parseTimestamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
