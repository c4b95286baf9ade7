// Package chain reads account, vault and EntryPoint state from an Ethereum
// JSON-RPC node. Multiple node URLs are supported with failover.
package chain

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github/chapool/go-autoyield/internal/policy"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const viewsABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalValue","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var viewsABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(viewsABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var ErrNoClient = errors.New("all RPC clients are unavailable")

// Client wraps one ethclient per node URL and fails over to the next URL
// when the current one stops answering.
type Client struct {
	urls       []string
	entryPoint common.Address

	mu      sync.Mutex
	clients []*ethclient.Client
	current int
}

// Dial connects to every URL. Unreachable nodes are retried on use, but at
// least one has to answer now.
func Dial(urls []string, entryPoint common.Address) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	clients := make([]*ethclient.Client, 0, len(urls))
	connected := 0
	for _, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			log.Warn().
				Str("url", url).
				Err(err).
				Msg("Failed to connect to RPC node, will retry on use")
			clients = append(clients, nil)
			continue
		}
		clients = append(clients, client)
		connected++
	}

	if connected == 0 {
		return nil, errors.New("failed to connect to any RPC node")
	}

	return &Client{
		urls:       urls,
		entryPoint: entryPoint,
		clients:    clients,
	}, nil
}

// NewClient wraps already connected RPC clients, in failover order.
func NewClient(entryPoint common.Address, rpcClients ...*rpc.Client) *Client {
	c := &Client{entryPoint: entryPoint}
	for i, rc := range rpcClients {
		c.urls = append(c.urls, "client-"+strconv.Itoa(i))
		c.clients = append(c.clients, ethclient.NewClient(rc))
	}
	return c
}

func (c *Client) EntryPoint() common.Address {
	return c.entryPoint
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		if client != nil {
			client.Close()
		}
	}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	return chainID, nil
}

// GetNonce returns the full EntryPoint nonce (key and next sequence) of
// sender for one nonce key.
func (c *Client) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	var nonce *big.Int
	if err := c.call(ctx, viewsABI, c.entryPoint, "getNonce", &nonce, sender, key); err != nil {
		return nil, errors.Wrap(err, "failed to get EntryPoint nonce")
	}
	return nonce, nil
}

func (c *Client) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	var balance *big.Int
	if err := c.call(ctx, viewsABI, token, "balanceOf", &balance, account); err != nil {
		return nil, errors.Wrap(err, "failed to call balanceOf")
	}
	return balance, nil
}

// PositionValue is the asset value owner holds in the adapter.
func (c *Client) PositionValue(ctx context.Context, adapterID, owner common.Address) (*big.Int, error) {
	var value *big.Int
	if err := c.call(ctx, viewsABI, adapterID, "totalValue", &value, owner); err != nil {
		return nil, errors.Wrap(err, "failed to call totalValue")
	}
	return value, nil
}

func (c *Client) Threshold(ctx context.Context, account, token common.Address) (*big.Int, error) {
	var threshold *big.Int
	if err := c.call(ctx, policy.ABI(), account, "checkingThreshold", &threshold, token); err != nil {
		return nil, errors.Wrap(err, "failed to read checking threshold")
	}
	return threshold, nil
}

func (c *Client) CurrentAdapter(ctx context.Context, account, token common.Address) (common.Address, error) {
	var current common.Address
	if err := c.call(ctx, policy.ABI(), account, "currentAdapter", &current, token); err != nil {
		return common.Address{}, errors.Wrap(err, "failed to read current adapter")
	}
	return current, nil
}

func (c *Client) IsAdapterAllowed(ctx context.Context, account, adapterID common.Address) (bool, error) {
	var allowed bool
	if err := c.call(ctx, policy.ABI(), account, "isAdapterAllowed", &allowed, adapterID); err != nil {
		return false, errors.Wrap(err, "failed to read adapter whitelist")
	}
	return allowed, nil
}

func (c *Client) AutomationKey(ctx context.Context, account common.Address) (common.Address, error) {
	var key common.Address
	if err := c.call(ctx, policy.ABI(), account, "automationKey", &key); err != nil {
		return common.Address{}, errors.Wrap(err, "failed to read automation key")
	}
	return key, nil
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, out interface{}, args ...interface{}) error {
	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}

	data, err := contract.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to pack %s", method)
	}

	resp, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return err
	}

	values, err := contract.Unpack(method, resp)
	if err != nil {
		return errors.Wrapf(err, "failed to unpack %s", method)
	}
	if len(values) != 1 {
		return errors.Errorf("%s returned %d values", method, len(values))
	}

	switch dst := out.(type) {
	case **big.Int:
		v, ok := values[0].(*big.Int)
		if !ok {
			return errors.Errorf("%s returned %T", method, values[0])
		}
		*dst = v
	case *common.Address:
		v, ok := values[0].(common.Address)
		if !ok {
			return errors.Errorf("%s returned %T", method, values[0])
		}
		*dst = v
	case *bool:
		v, ok := values[0].(bool)
		if !ok {
			return errors.Errorf("%s returned %T", method, values[0])
		}
		*dst = v
	default:
		return errors.Errorf("unsupported output %T", out)
	}

	return nil
}

// getClient returns the first client, starting at the current one, that
// answers a chain ID request. Nil slots are redialed.
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.clients); i++ {
		idx := (c.current + i) % len(c.clients)

		if c.clients[idx] == nil {
			client, err := ethclient.DialContext(ctx, c.urls[idx])
			if err != nil {
				continue
			}
			c.clients[idx] = client
		}

		if _, err := c.clients[idx].ChainID(ctx); err != nil {
			log.Warn().
				Str("url", c.urls[idx]).
				Err(err).
				Msg("RPC client health check failed, trying next node")
			continue
		}

		c.current = idx
		return c.clients[idx], nil
	}

	return nil, ErrNoClient
}
