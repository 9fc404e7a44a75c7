package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// CTF Exchange contract on Polygon mainnet; orders are signed against its
// EIP-712 domain.
const DefaultExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

// Pre-computed keccak256 of the canonical EIP-712 type strings.
var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// EIP712Domain(string name,string version,uint256 chainId)
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// ClobAuth(address address,uint256 timestamp,uint256 nonce)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)

	// Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// Signer signs CLOB orders and auth messages with EIP-712.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	exchange   common.Address
	authSep    []byte // ClobAuth domain separator, cached
	orderSep   []byte // Exchange domain separator, cached
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// target chain ID (137 for Polygon mainnet, 80002 for Amoy testnet).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		exchange:   common.HexToAddress(DefaultExchangeAddress),
	}
	s.authSep = ethcrypto.Keccak256(concatBytes(
		authDomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		bigIntTo32Bytes(big.NewInt(int64(chainID))),
	))
	s.orderSep = ethcrypto.Keccak256(concatBytes(
		exchangeDomainTypeHash,
		ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		bigIntTo32Bytes(big.NewInt(int64(chainID))),
		common.LeftPadBytes(s.exchange.Bytes(), 32),
	))
	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// BuildOrder turns an order request into a signed exchange order. Prices and
// sizes are converted to the CLOB's 6-decimal fixed-point amounts: a buy pays
// collateral for tokens, a sell the reverse.
func (s *Signer) BuildOrder(req domain.OrderRequest) (domain.Order, error) {
	if req.Price <= 0 || req.Size <= 0 {
		return domain.Order{}, fmt.Errorf("crypto/signer: non-positive price or size: %w", domain.ErrInvalidInput)
	}

	tokens := big.NewInt(int64(req.Size * 1e6))
	collateral := big.NewInt(int64(req.Price * req.Size * 1e6))

	order := domain.Order{
		TokenID:   req.TokenID,
		Wallet:    s.address.Hex(),
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Size:      req.Size,
		CreatedAt: time.Now().UTC(),
	}
	sideCode := 0
	if req.Side == domain.OrderSideSell {
		order.MakerAmount, order.TakerAmount = tokens, collateral
		sideCode = 1
	} else {
		order.MakerAmount, order.TakerAmount = collateral, tokens
	}

	salt, err := randomSalt()
	if err != nil {
		return domain.Order{}, err
	}

	structHash, err := orderStructHash(orderFields{
		salt:        salt,
		maker:       s.address,
		signer:      s.address,
		tokenID:     req.TokenID,
		makerAmount: order.MakerAmount,
		takerAmount: order.TakerAmount,
		side:        sideCode,
	})
	if err != nil {
		return domain.Order{}, err
	}

	sig, err := s.signDigest(eip712Hash(s.orderSep, structHash))
	if err != nil {
		return domain.Order{}, err
	}
	order.Signature = sig
	return order, nil
}

// SignAuthMessage signs a ClobAuth EIP-712 message used to obtain an API key.
// The returned string is a hex-encoded 65-byte signature.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		bigIntTo32Bytes(big.NewInt(timestamp)),
		bigIntTo32Bytes(big.NewInt(nonce)),
	))
	return s.signDigest(eip712Hash(s.authSep, structHash))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// orderFields holds the EIP-712 Order struct members not fixed to zero.
// Expiration, nonce, and fee rate are always zero for immediate arbitrage
// legs; taker is the zero address (open order).
type orderFields struct {
	salt        *big.Int
	maker       common.Address
	signer      common.Address
	tokenID     string
	makerAmount *big.Int
	takerAmount *big.Int
	side        int
}

func orderStructHash(f orderFields) ([]byte, error) {
	tokenID, ok := new(big.Int).SetString(f.tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid tokenId %q", f.tokenID)
	}
	zero := big.NewInt(0)

	return ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		bigIntTo32Bytes(f.salt),
		common.LeftPadBytes(f.maker.Bytes(), 32),
		common.LeftPadBytes(f.signer.Bytes(), 32),
		common.LeftPadBytes(common.Address{}.Bytes(), 32), // taker: open order
		bigIntTo32Bytes(tokenID),
		bigIntTo32Bytes(f.makerAmount),
		bigIntTo32Bytes(f.takerAmount),
		bigIntTo32Bytes(zero), // expiration
		bigIntTo32Bytes(zero), // nonce
		bigIntTo32Bytes(zero), // feeRateBps
		bigIntTo32Bytes(big.NewInt(int64(f.side))),
		bigIntTo32Bytes(zero), // signatureType: EOA
	)), nil
}

// eip712Hash computes the final digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes(
		[]byte{0x19, 0x01},
		domainSep,
		structHash,
	))
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// randomSalt returns a random 64-bit salt for order uniqueness.
func randomSalt() (*big.Int, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto/signer: generating salt: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
