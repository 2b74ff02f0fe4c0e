package notary

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/BraydenSmith1/kora/internal/market"
)

// TradeRegistry exposes a single write method; the trade key is the keccak
// hash of the trade id so re-recording the same trade hits the same slot.
const tradeRegistryABI = `[{"inputs":[{"internalType":"bytes32","name":"tradeKey","type":"bytes32"},{"internalType":"uint256","name":"priceCents","type":"uint256"},{"internalType":"uint256","name":"quantityWh","type":"uint256"},{"internalType":"uint256","name":"amountCents","type":"uint256"},{"internalType":"string","name":"regionId","type":"string"}],"name":"record","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

const recordGasLimit = 200000

var ErrReceiptTimeout = errors.New("chain receipt not observed before timeout")

// ChainNotary records trades on an EVM TradeRegistry contract, signing with a
// single operator key and waiting for the mined receipt.
type ChainNotary struct {
	client         *ethclient.Client
	key            *ecdsa.PrivateKey
	from           common.Address
	contract       common.Address
	chainID        *big.Int
	contractABI    abi.ABI
	receiptTimeout time.Duration
	logger         *slog.Logger
}

func NewChainNotary(ctx context.Context, rpcURL, privateKeyHex, contractAddress string, receiptTimeout time.Duration, logger *slog.Logger) (*ChainNotary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if receiptTimeout <= 0 {
		receiptTimeout = 30 * time.Second
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	chainID, err := client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	contractABI, err := abi.JSON(strings.NewReader(tradeRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	return &ChainNotary{
		client:         client,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		contract:       common.HexToAddress(contractAddress),
		chainID:        chainID,
		contractABI:    contractABI,
		receiptTimeout: receiptTimeout,
		logger:         logger,
	}, nil
}

func (n *ChainNotary) RecordTrade(ctx context.Context, trade *market.Trade) (Receipt, error) {
	calldata, err := n.contractABI.Pack("record",
		tradeKey(trade.ID.String()),
		big.NewInt(trade.PriceCents),
		wattHours(trade.QuantityKwh),
		big.NewInt(trade.AmountCents),
		trade.RegionID,
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack record call: %w", err)
	}

	nonce, err := n.client.PendingNonceAt(ctx, n.from)
	if err != nil {
		return Receipt{}, fmt.Errorf("query nonce: %w", err)
	}
	gasPrice, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("query gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, n.contract, big.NewInt(0), recordGasLimit, gasPrice, calldata)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(n.chainID), n.key)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := n.client.SendTransaction(ctx, signedTx); err != nil {
		return Receipt{}, fmt.Errorf("send transaction: %w", err)
	}

	txHash := signedTx.Hash()
	n.logger.Info("trade receipt submitted", "trade_id", trade.ID, "tx_hash", txHash.Hex())

	receipt, err := n.waitReceipt(ctx, txHash)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, fmt.Errorf("record transaction %s reverted", txHash.Hex())
	}

	return Receipt{
		TradeID:     trade.ID,
		TxHash:      txHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		ChainID:     n.chainID.Int64(),
	}, nil
}

func (n *ChainNotary) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(n.receiptTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := n.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("query receipt: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash.Hex())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// tradeKey derives the registry storage key for a trade id.
func tradeKey(tradeID string) [32]byte {
	return [32]byte(crypto.Keccak256Hash([]byte(tradeID)))
}

// wattHours converts a kWh quantity to whole watt-hours for the uint256
// contract argument.
func wattHours(quantityKwh decimal.Decimal) *big.Int {
	return quantityKwh.Mul(decimal.NewFromInt(1000)).Round(0).BigInt()
}
