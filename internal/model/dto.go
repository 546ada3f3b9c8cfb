package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

// OrderDTO is the wire form of a signed order. Integers are decimal or
// 0x-prefixed hex strings.
type OrderDTO struct {
	Salt          string `json:"salt" binding:"required"`
	Maker         string `json:"maker" binding:"required"`
	Signer        string `json:"signer" binding:"required"`
	Taker         string `json:"taker,omitempty"`
	TokenID       string `json:"token_id" binding:"required"`
	MakerAmount   string `json:"maker_amount" binding:"required"`
	TakerAmount   string `json:"taker_amount" binding:"required"`
	Expiration    string `json:"expiration,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	FeeRateBps    string `json:"fee_rate_bps,omitempty"`
	Side          string `json:"side" binding:"required,oneof=BUY SELL"`
	SignatureType int    `json:"signature_type"` // 0=EOA,1=Proxy,2=Safe
	Signature     string `json:"signature,omitempty"`
}

// ToOrder parses the DTO. Optional integers default to zero.
func (d *OrderDTO) ToOrder() (*signer.Order, error) {
	var err error
	o := &signer.Order{}
	for _, f := range []struct {
		name     string
		raw      string
		dst      **big.Int
		optional bool
	}{
		{"salt", d.Salt, &o.Salt, false},
		{"token_id", d.TokenID, &o.TokenID, false},
		{"maker_amount", d.MakerAmount, &o.MakerAmount, false},
		{"taker_amount", d.TakerAmount, &o.TakerAmount, false},
		{"expiration", d.Expiration, &o.Expiration, true},
		{"nonce", d.Nonce, &o.Nonce, true},
		{"fee_rate_bps", d.FeeRateBps, &o.FeeRateBps, true},
	} {
		if *f.dst, err = parseUint(f.name, f.raw, f.optional); err != nil {
			return nil, err
		}
	}
	if o.Maker, err = ParseAddress("maker", d.Maker); err != nil {
		return nil, err
	}
	if o.Signer, err = ParseAddress("signer", d.Signer); err != nil {
		return nil, err
	}
	if d.Taker != "" {
		if o.Taker, err = ParseAddress("taker", d.Taker); err != nil {
			return nil, err
		}
	}
	switch d.Side {
	case "BUY":
		o.Side = signer.Buy
	case "SELL":
		o.Side = signer.Sell
	default:
		return nil, fmt.Errorf("side: %q is not BUY or SELL", d.Side)
	}
	if d.SignatureType < 0 || d.SignatureType > int(signer.PolyGnosisSafe) {
		return nil, fmt.Errorf("signature_type: %d is not supported", d.SignatureType)
	}
	o.SignatureType = signer.SignatureType(d.SignatureType)
	if d.Signature != "" {
		if o.Signature, err = hexutil.Decode(d.Signature); err != nil {
			return nil, fmt.Errorf("signature: %w", err)
		}
	}
	return o, nil
}

func OrderToDTO(o *signer.Order) OrderDTO {
	d := OrderDTO{
		Salt:          bigString(o.Salt),
		Maker:         o.Maker.Hex(),
		Signer:        o.Signer.Hex(),
		TokenID:       bigString(o.TokenID),
		MakerAmount:   bigString(o.MakerAmount),
		TakerAmount:   bigString(o.TakerAmount),
		Expiration:    bigString(o.Expiration),
		Nonce:         bigString(o.Nonce),
		FeeRateBps:    bigString(o.FeeRateBps),
		Side:          o.Side.String(),
		SignatureType: int(o.SignatureType),
	}
	if o.Taker != (common.Address{}) {
		d.Taker = o.Taker.Hex()
	}
	if len(o.Signature) > 0 {
		d.Signature = hexutil.Encode(o.Signature)
	}
	return d
}

// ImpliedPrice renders the order's collateral-per-outcome-token price.
func ImpliedPrice(o *signer.Order) decimal.Decimal {
	collateral, tokens := o.MakerAmount, o.TakerAmount
	if o.Side == signer.Sell {
		collateral, tokens = o.TakerAmount, o.MakerAmount
	}
	if collateral == nil || tokens == nil || tokens.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(collateral, 0).DivRound(decimal.NewFromBigInt(tokens, 0), 6)
}

type OrderHashResponse struct {
	Hash      string          `json:"hash"`
	Digest    string          `json:"digest"`
	Price     decimal.Decimal `json:"price"`
	Remaining string          `json:"remaining"`
	Filled    bool            `json:"is_filled_or_cancelled"`
}

type TypedOrderResponse struct {
	Order     OrderDTO    `json:"order"`
	TypedData interface{} `json:"typed_data"`
}

type FillRequest struct {
	Order      OrderDTO `json:"order" binding:"required"`
	FillAmount string   `json:"fill_amount" binding:"required"`
}

type FillsRequest struct {
	Orders      []OrderDTO `json:"orders" binding:"required,min=1,dive"`
	FillAmounts []string   `json:"fill_amounts" binding:"required,min=1"`
}

type MatchRequest struct {
	TakerOrder       OrderDTO   `json:"taker_order" binding:"required"`
	MakerOrders      []OrderDTO `json:"maker_orders" binding:"required,min=1,dive"`
	TakerFillAmount  string     `json:"taker_fill_amount" binding:"required"`
	MakerFillAmounts []string   `json:"maker_fill_amounts" binding:"required,min=1"`
}

type FillResponse struct {
	OrderHash    string          `json:"order_hash"`
	Maker        string          `json:"maker"`
	Taker        string          `json:"taker"`
	MakerAssetID string          `json:"maker_asset_id"`
	TakerAssetID string          `json:"taker_asset_id"`
	Making       string          `json:"making"`
	Taking       string          `json:"taking"`
	Fee          string          `json:"fee"`
	Price        decimal.Decimal `json:"price"`
	Error        string          `json:"error,omitempty"`
}

type MatchResponse struct {
	TakerOrderHash string         `json:"taker_order_hash"`
	Making         string         `json:"making"`
	Taking         string         `json:"taking"`
	Fee            string         `json:"fee"`
	Refund         string         `json:"refund"`
	MatchTypes     []string       `json:"match_types"`
	MakerFills     []FillResponse `json:"maker_fills"`
}

type TokenRequest struct {
	Token       string `json:"token" binding:"required"`
	Complement  string `json:"complement" binding:"required"`
	ConditionID string `json:"condition_id" binding:"required"`
}

type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

type FeeCeilingRequest struct {
	Bps int64 `json:"bps"`
}

type UpgradeRequest struct {
	Implementation  string `json:"implementation" binding:"required"`
	TimelockSeconds int64  `json:"timelock_seconds"`
}

type ProxyRequest struct {
	Owner    string `json:"owner" binding:"required"`
	Salt     string `json:"salt,omitempty"`
	InitData string `json:"init_data,omitempty"`
}

type ProxyResponse struct {
	Address        string `json:"address"`
	Owner          string `json:"owner"`
	Salt           string `json:"salt"`
	Deployed       bool   `json:"deployed"`
	Created        bool   `json:"created"`
	Paused         bool   `json:"paused"`
	Nonce          uint64 `json:"nonce"`
	Implementation string `json:"implementation,omitempty"`
}

type CallDTO struct {
	To   string `json:"to" binding:"required"`
	Data string `json:"data"`
}

type WalletCallRequest struct {
	Calls []CallDTO `json:"calls" binding:"required,min=1,dive"`
}

type PriceRequest struct {
	AncillaryData   string `json:"ancillary_data" binding:"required"`
	Bond            string `json:"bond" binding:"required"`
	LivenessSeconds int64  `json:"liveness_seconds" binding:"required"`
	// OutcomeSlotCount pins the market's slot count (2 or 3) when set.
	OutcomeSlotCount int `json:"outcome_slot_count,omitempty"`
}

type ProposeRequest struct {
	Price []string `json:"price" binding:"required,min=1"`
}

type DisputeRequest struct {
	Bond string `json:"bond" binding:"required"`
}

type SettleRequest struct {
	FinalPrice []string `json:"final_price,omitempty"`
}

type ReportRequest struct {
	OutcomeSlotCount int `json:"outcome_slot_count" binding:"required,min=2"`
}

// ParseAddress accepts only well-formed hex addresses.
func ParseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func ParseHash(field, raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s: %q is not a 32-byte hex value", field, raw)
	}
	return common.BytesToHash(b), nil
}

// ParseAmount parses a non-negative 256-bit integer.
func ParseAmount(field, raw string) (*big.Int, error) {
	return parseUint(field, raw, false)
}

func ParseAmounts(field string, raw []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(raw))
	for i, r := range raw {
		v, err := parseUint(fmt.Sprintf("%s[%d]", field, i), r, false)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ParseSigned parses signed integers, as used by oracle prices.
func ParseSigned(field string, raw []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(raw))
	for i, r := range raw {
		v, ok := new(big.Int).SetString(strings.TrimSpace(r), 0)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: %q is not an integer", field, i, r)
		}
		out[i] = v
	}
	return out, nil
}

func parseUint(field, raw string, optional bool) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if optional {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("%s: required", field)
	}
	v, ok := math.ParseBig256(raw)
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a uint256", field, raw)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type MarketRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
}

type MarketResponse struct {
	ConditionID string `json:"condition_id"`
	YesToken    string `json:"yes_token"`
	NoToken     string `json:"no_token"`
}
