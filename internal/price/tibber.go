// Package price supplies the dynamic-price charge gate. The fetcher
// runs in the background and fills a TTL cache; the control loop only
// ever reads the cache and never blocks on the network.
package price

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/config"
)

// Level is a Tibber price level.
type Level string

const (
	LevelVeryCheap     Level = "VERY_CHEAP"
	LevelCheap         Level = "CHEAP"
	LevelNormal        Level = "NORMAL"
	LevelExpensive     Level = "EXPENSIVE"
	LevelVeryExpensive Level = "VERY_EXPENSIVE"
)

const (
	graphqlURL = "https://api.tibber.com/v1-beta/gql"
	cacheTTL   = 5 * time.Minute
)

const priceQuery = `{
  viewer {
    homes {
      id
      currentSubscription {
        priceInfo {
          current {
            total
            level
            startsAt
          }
        }
      }
    }
  }
}`

// Tibber fetches the current price level from the Tibber GraphQL API.
type Tibber struct {
	cfg    config.TibberConfig
	log    *zap.Logger
	client *http.Client
	url    string

	mu        sync.RWMutex
	level     Level
	total     float64
	fetchedAt time.Time
}

func NewTibber(cfg config.TibberConfig, log *zap.Logger) *Tibber {
	return &Tibber{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
		url:    graphqlURL,
	}
}

// Enabled reports whether the provider is configured.
func (t *Tibber) Enabled() bool {
	return t.cfg.Enabled && t.cfg.AccessToken != ""
}

// ShouldCharge answers the charge gate from the cache. The second
// return is false when no fresh price is known; the policy then treats
// the provider as absent.
func (t *Tibber) ShouldCharge(now time.Time) (ok, known bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.fetchedAt.IsZero() || now.Sub(t.fetchedAt) > cacheTTL {
		return false, false
	}
	switch t.level {
	case LevelVeryCheap:
		return t.cfg.ChargeOnVeryCheap, true
	case LevelCheap:
		return t.cfg.ChargeOnCheap, true
	default:
		return false, true
	}
}

// CurrentLevel returns the cached price level, empty when unknown.
func (t *Tibber) CurrentLevel() Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.level
}

// Refresh queries the API and updates the cache. Called from the
// background refresh job, never from the control loop.
func (t *Tibber) Refresh(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}

	body, err := json.Marshal(map[string]string{"query": priceQuery})
	if err != nil {
		return fmt.Errorf("failed to marshal price query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Viewer struct {
				Homes []struct {
					ID                  string `json:"id"`
					CurrentSubscription struct {
						PriceInfo struct {
							Current struct {
								Total    float64 `json:"total"`
								Level    string  `json:"level"`
								StartsAt string  `json:"startsAt"`
							} `json:"current"`
						} `json:"priceInfo"`
					} `json:"currentSubscription"`
				} `json:"homes"`
			} `json:"viewer"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode price response: %w", err)
	}

	homes := payload.Data.Viewer.Homes
	if len(homes) == 0 {
		return fmt.Errorf("no homes in price response")
	}
	home := homes[0]
	if t.cfg.HomeID != "" {
		found := false
		for _, h := range homes {
			if h.ID == t.cfg.HomeID {
				home = h
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("home %s not in price response", t.cfg.HomeID)
		}
	}

	current := home.CurrentSubscription.PriceInfo.Current
	if current.Level == "" {
		return fmt.Errorf("no current price in response")
	}

	t.mu.Lock()
	t.level = Level(current.Level)
	t.total = current.Total
	t.fetchedAt = time.Now()
	t.mu.Unlock()

	t.log.Info("price level updated",
		zap.String("level", current.Level),
		zap.Float64("total", current.Total))
	return nil
}
