package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Constants for EIP-712
const (
	EIP712DomainName    = "Polymarket CTF Exchange"
	EIP712DomainVersion = "1"
)

var (
	// EIP712DomainTypeHash is the keccak256 hash of the EIP712Domain type definition
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	// OrderTypeHash is the keccak256 hash of the Order type definition
	OrderTypeHash = crypto.Keccak256Hash([]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

type SignatureType uint8

const (
	// EOA: maker is the signing key itself.
	EOA SignatureType = iota
	// PolyProxy: maker is the signer's proxy wallet.
	PolyProxy
	// PolyGnosisSafe: maker is the signer's safe.
	PolyGnosisSafe
)

func (t SignatureType) String() string {
	switch t {
	case EOA:
		return "EOA"
	case PolyProxy:
		return "POLY_PROXY"
	case PolyGnosisSafe:
		return "POLY_GNOSIS_SAFE"
	default:
		return "UNKNOWN"
	}
}

// Order represents the struct to be signed plus its signature.
type Order struct {
	Salt          *big.Int       `json:"salt"`
	Maker         common.Address `json:"maker"`
	Signer        common.Address `json:"signer"`
	Taker         common.Address `json:"taker"`
	TokenID       *big.Int       `json:"tokenId"`
	MakerAmount   *big.Int       `json:"makerAmount"`
	TakerAmount   *big.Int       `json:"takerAmount"`
	Expiration    *big.Int       `json:"expiration"`
	Nonce         *big.Int       `json:"nonce"`
	FeeRateBps    *big.Int       `json:"feeRateBps"`
	Side          Side           `json:"side"`
	SignatureType SignatureType  `json:"signatureType"`
	Signature     []byte         `json:"signature"`
}

// Domain binds order hashes to one deployment of one protocol.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address

	separator common.Hash
}

func NewDomain(chainID int64, verifyingContract common.Address) *Domain {
	d := &Domain{
		Name:              EIP712DomainName,
		Version:           EIP712DomainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifyingContract,
	}
	d.separator = d.computeSeparator()
	return d
}

// Separator returns keccak256(abi.encode(typeHash, name, version, chainId, verifyingContract)).
func (d *Domain) Separator() common.Hash {
	return d.separator
}

func (d *Domain) computeSeparator() common.Hash {
	// Manual ABI encode; all fields are 32 bytes
	data := make([]byte, 32*5)
	copy(data[0:32], EIP712DomainTypeHash.Bytes())
	copy(data[32:64], crypto.Keccak256([]byte(d.Name)))
	copy(data[64:96], crypto.Keccak256([]byte(d.Version)))
	copy(data[96:128], math.U256Bytes(new(big.Int).Set(d.ChainID)))
	copy(data[128+12:160], d.VerifyingContract.Bytes())
	return crypto.Keccak256Hash(data)
}

// HashOrder calculates hashStruct(order)
func HashOrder(order *Order) common.Hash {
	// Order has 12 fields + typeHash = 13 items * 32 bytes = 416 bytes
	data := make([]byte, 32*13)
	copy(data[0:32], OrderTypeHash.Bytes())
	putUint(data[32:64], order.Salt)
	copy(data[64+12:96], order.Maker.Bytes())
	copy(data[96+12:128], order.Signer.Bytes())
	copy(data[128+12:160], order.Taker.Bytes())
	putUint(data[160:192], order.TokenID)
	putUint(data[192:224], order.MakerAmount)
	putUint(data[224:256], order.TakerAmount)
	putUint(data[256:288], order.Expiration)
	putUint(data[288:320], order.Nonce)
	putUint(data[320:352], order.FeeRateBps)
	data[383] = byte(order.Side)
	data[415] = byte(order.SignatureType)
	return crypto.Keccak256Hash(data)
}

// Digest is the EIP-712 hash keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(order)).
func (d *Domain) Digest(order *Order) common.Hash {
	return d.TypedDataHash(HashOrder(order))
}

func (d *Domain) TypedDataHash(structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, d.separator.Bytes(), structHash.Bytes())
}

// TypedData renders the order as eth_signTypedData_v4 input for wallets.
func (d *Domain) TypedData(order *Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          hexOrDecimal(order.Salt),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       hexOrDecimal(order.TokenID),
			"makerAmount":   hexOrDecimal(order.MakerAmount),
			"takerAmount":   hexOrDecimal(order.TakerAmount),
			"expiration":    hexOrDecimal(order.Expiration),
			"nonce":         hexOrDecimal(order.Nonce),
			"feeRateBps":    hexOrDecimal(order.FeeRateBps),
			"side":          (*math.HexOrDecimal256)(big.NewInt(int64(order.Side))),
			"signatureType": (*math.HexOrDecimal256)(big.NewInt(int64(order.SignatureType))),
		},
	}
}

func putUint(dst []byte, v *big.Int) {
	if v != nil {
		copy(dst, math.U256Bytes(new(big.Int).Set(v)))
	}
}

func hexOrDecimal(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		return (*math.HexOrDecimal256)(new(big.Int))
	}
	return (*math.HexOrDecimal256)(new(big.Int).Set(v))
}
