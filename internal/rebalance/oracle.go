package rebalance

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	oracleMaxBodyBytes = 1 << 20
	bpsPerPercent      = 100
)

var ErrOracleUnavailable = errors.New("rate oracle unavailable")

// Quote is one advisory rate of a yield destination.
type Quote struct {
	VaultID common.Address
	// APY in basis points.
	APY        int64
	TVL        float64
	ObservedAt time.Time
}

// RateOracle returns the known rates of the destinations of asset on network.
// Results are advisory and may be stale.
type RateOracle interface {
	Quotes(ctx context.Context, asset common.Address, network string) ([]Quote, error)
}

// StaticOracle serves quotes set in process.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[common.Address][]Quote
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{quotes: make(map[common.Address][]Quote)}
}

// Set replaces the quotes of asset.
func (o *StaticOracle) Set(asset common.Address, quotes ...Quote) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.quotes[asset] = append([]Quote(nil), quotes...)
}

func (o *StaticOracle) Quotes(_ context.Context, asset common.Address, _ string) ([]Quote, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return rank(append([]Quote(nil), o.quotes[asset]...)), nil
}

// HTTPOracle reads quotes from a JSON endpoint answering
// GET <url>?asset=<address>&network=<name> with either a bare array or
// {"data": [...]} of {vaultId, apy, tvl, updatedAt}. apy is a percentage,
// updatedAt unix seconds; quotes without updatedAt are stamped on receipt.
type HTTPOracle struct {
	endpoint string
	client   *http.Client
	clock    time2.Clock
}

func NewHTTPOracle(endpoint string, timeout time.Duration, clock time2.Clock) *HTTPOracle {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &HTTPOracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		clock:    clock,
	}
}

func (o *HTTPOracle) Quotes(ctx context.Context, asset common.Address, network string) ([]Quote, error) {
	u, err := url.Parse(o.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid oracle url")
	}
	q := u.Query()
	q.Set("asset", strings.ToLower(asset.Hex()))
	if network != "" {
		q.Set("network", network)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build oracle request")
	}
	req.Header.Set("Accept", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrOracleUnavailable, err.Error())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, oracleMaxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read oracle response")
	}
	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrOracleUnavailable, "status %d", res.StatusCode)
	}

	return parseQuotes(body, o.clock.Now())
}

func parseQuotes(body []byte, now time.Time) ([]Quote, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("oracle returned invalid json")
	}

	list := gjson.ParseBytes(body)
	if data := list.Get("data"); data.Exists() {
		list = data
	}
	if !list.IsArray() {
		return nil, errors.New("oracle response is not a list")
	}

	var quotes []Quote
	var parseErr error
	list.ForEach(func(i, item gjson.Result) bool {
		id := item.Get("vaultId").String()
		if !common.IsHexAddress(id) {
			parseErr = errors.Errorf("quote %d: invalid vaultId %q", i.Int(), id)
			return false
		}

		observed := now
		if ts := item.Get("updatedAt"); ts.Exists() {
			observed = time.Unix(ts.Int(), 0)
		}

		quotes = append(quotes, Quote{
			VaultID:    common.HexToAddress(id),
			APY:        int64(math.Round(item.Get("apy").Float() * bpsPerPercent)),
			TVL:        item.Get("tvl").Float(),
			ObservedAt: observed,
		})
		return true
	})
	if parseErr != nil {
		return nil, errors.Wrap(parseErr, "malformed oracle response")
	}

	return rank(quotes), nil
}

// rank orders quotes best first; ties go to the lower vault address.
func rank(quotes []Quote) []Quote {
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].APY != quotes[j].APY {
			return quotes[i].APY > quotes[j].APY
		}
		return bytes.Compare(quotes[i].VaultID[:], quotes[j].VaultID[:]) < 0
	})
	return quotes
}
