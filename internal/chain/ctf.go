// Package chain talks to the Conditional Token Framework contracts on
// Polygon: splitting collateral into YES/NO pairs, merging pairs back, and
// redeeming resolved positions.
package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

const (
	polygonChainID = int64(137)

	// USDC.e collateral on Polygon.
	usdcAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract holding the conditional tokens (ERC1155).
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Conservative upper bounds; actual limits come from EstimateGas.
	splitMergeGasLimit = uint64(200_000)
	redeemGasLimit     = uint64(300_000)

	gasPriceTTL    = 5 * time.Minute
	receiptTimeout = 60 * time.Second
	receiptPoll    = 3 * time.Second

	// usdcDecimals converts between float collateral units and on-chain
	// 6-decimal integers.
	usdcDecimals = 1e6
)

var (
	ctfABI   abi.ABI
	erc20ABI abi.ABI
)

func init() {
	var err error

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "splitPosition",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "partition", "type": "uint256[]"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "mergePositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "partition", "type": "uint256[]"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "indexSets", "type": "uint256[]"}
			],
			"outputs": []
		},
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "id", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("chain: ctf abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("chain: erc20 abi parse: " + err.Error())
	}
}

// Client implements domain.ChainClient against a Polygon RPC endpoint.
type Client struct {
	eth     *ethclient.Client
	key     []byte
	address common.Address
	logger  *slog.Logger

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// New dials the RPC endpoint and derives the wallet address from the
// hex-encoded private key.
func New(rpcURL, privateKeyHex string, logger *slog.Logger) (*Client, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: decode private key: %w", err)
	}
	pk, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc %s: %w", rpcURL, err)
	}

	return &Client{
		eth:     eth,
		key:     keyBytes,
		address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		logger:  logger.With(slog.String("component", "chain")),
	}, nil
}

// Address returns the wallet address transactions are sent from.
func (c *Client) Address() common.Address { return c.address }

// Split converts amount USDC into amount YES + amount NO tokens.
func (c *Client) Split(ctx context.Context, conditionID string, amount float64) (float64, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return 0, fmt.Errorf("chain: split: %w", err)
	}

	callData, err := ctfABI.Pack("splitPosition",
		common.HexToAddress(usdcAddress),
		[32]byte{},
		cond,
		binaryPartition(),
		toUnits(amount),
	)
	if err != nil {
		return 0, fmt.Errorf("chain: split: pack: %w", err)
	}

	if err := c.sendAndConfirm(ctx, callData, splitMergeGasLimit, "split", conditionID); err != nil {
		return 0, err
	}
	return amount, nil
}

// Merge converts amount matched YES/NO pairs back into amount USDC.
func (c *Client) Merge(ctx context.Context, conditionID string, amount float64) (float64, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return 0, fmt.Errorf("chain: merge: %w", err)
	}

	callData, err := ctfABI.Pack("mergePositions",
		common.HexToAddress(usdcAddress),
		[32]byte{},
		cond,
		binaryPartition(),
		toUnits(amount),
	)
	if err != nil {
		return 0, fmt.Errorf("chain: merge: pack: %w", err)
	}

	if err := c.sendAndConfirm(ctx, callData, splitMergeGasLimit, "merge", conditionID); err != nil {
		return 0, err
	}
	return amount, nil
}

// Redeem converts winning tokens of a resolved market into USDC. The payout is
// measured as the collateral balance delta across the transaction, since only
// the contract knows which side won.
func (c *Client) Redeem(ctx context.Context, conditionID string) (float64, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return 0, fmt.Errorf("chain: redeem: %w", err)
	}

	before, err := c.usdcBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: redeem: balance before: %w", err)
	}

	callData, err := ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcAddress),
		[32]byte{},
		cond,
		binaryPartition(),
	)
	if err != nil {
		return 0, fmt.Errorf("chain: redeem: pack: %w", err)
	}

	if err := c.sendAndConfirm(ctx, callData, redeemGasLimit, "redeem", conditionID); err != nil {
		return 0, err
	}

	after, err := c.usdcBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: redeem: balance after: %w", err)
	}
	if after <= before {
		return 0, nil
	}
	return after - before, nil
}

// Balances reads the wallet's USDC and YES/NO token holdings for a market.
// CLOB token IDs double as the ERC1155 position IDs on the CTF contract.
func (c *Client) Balances(ctx context.Context, m domain.Market) (domain.PositionSnapshot, error) {
	usdc, err := c.usdcBalance(ctx)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("chain: balances: usdc: %w", err)
	}
	yes, err := c.tokenBalance(ctx, m.YesTokenID)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("chain: balances: yes token: %w", err)
	}
	no, err := c.tokenBalance(ctx, m.NoTokenID)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("chain: balances: no token: %w", err)
	}
	return domain.PositionSnapshot{USDC: usdc, YesTokens: yes, NoTokens: no}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// sendAndConfirm signs and submits one CTF transaction and waits for its
// receipt. A reverted receipt is an error, not a silent loss.
func (c *Client) sendAndConfirm(ctx context.Context, callData []byte, gasLimit uint64, op, conditionID string) error {
	pk, err := ethcrypto.ToECDSA(c.key)
	if err != nil {
		return fmt.Errorf("chain: %s: private key: %w", op, err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return fmt.Errorf("chain: %s: nonce: %w", op, err)
	}
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return fmt.Errorf("chain: %s: gas price: %w", op, err)
	}

	to := common.HexToAddress(ctfAddress)
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gas = gasLimit
		c.logger.WarnContext(ctx, "gas estimate failed, using default",
			slog.String("op", op),
			slog.Uint64("limit", gasLimit),
		)
	}
	gas = gas * 12 / 10 // 20% headroom

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), pk)
	if err != nil {
		return fmt.Errorf("chain: %s: sign tx: %w", op, err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("chain: %s: send tx: %w", op, err)
	}

	txHash := signed.Hash()
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("op", op),
		slog.String("condition_id", shortID(conditionID)),
		slog.String("tx", txHash.Hex()),
	)

	receiptCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	receipt, err := c.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		return fmt.Errorf("chain: %s: wait receipt %s: %w", op, txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("chain: %s: tx %s: %w", op, txHash.Hex(), domain.ErrOnChainReverted)
	}
	return nil
}

func (c *Client) usdcBalance(ctx context.Context) (float64, error) {
	callData, err := erc20ABI.Pack("balanceOf", c.address)
	if err != nil {
		return 0, err
	}
	token := common.HexToAddress(usdcAddress)
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return 0, err
	}
	vals, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	return fromUnits(vals[0].(*big.Int)), nil
}

func (c *Client) tokenBalance(ctx context.Context, tokenID string) (float64, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return 0, fmt.Errorf("invalid token id %q", tokenID)
	}
	callData, err := ctfABI.Pack("balanceOf", c.address, id)
	if err != nil {
		return 0, err
	}
	ctf := common.HexToAddress(ctfAddress)
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &ctf, Data: callData}, nil)
	if err != nil {
		return 0, err
	}
	vals, err := ctfABI.Unpack("balanceOf", raw)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	return fromUnits(vals[0].(*big.Int)), nil
}

// gasPrice returns the suggested gas price with a 10% inclusion buffer,
// cached to avoid hammering the RPC.
func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	cached, updatedAt := c.cachedGasWei, c.gasUpdatedAt
	c.mu.RUnlock()
	if cached != nil && time.Since(updatedAt) < gasPriceTTL {
		return cached, nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()
	return buffered, nil
}

// waitForReceipt polls until the transaction is mined or ctx expires.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// binaryPartition is the YES/NO outcome index sets.
func binaryPartition() []*big.Int {
	return []*big.Int{big.NewInt(1), big.NewInt(2)}
}

func toUnits(amount float64) *big.Int {
	return big.NewInt(int64(amount * usdcDecimals))
}

func fromUnits(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(usdcDecimals)).Float64()
	return f
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}
