package crypto

import (
	"encoding/base64"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// Well-known throwaway test key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptRejectsBadKey(t *testing.T) {
	_, err := EncryptKey("not-hex", "pw")
	require.Error(t, err)

	_, err = EncryptKey("abcd", "pw") // too short
	require.Error(t, err)

	_, err = EncryptKey(testKey, "")
	require.Error(t, err)
}

func TestLoadKeyPrefersRaw(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}

func TestL2HeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "key-1",
		Secret:     base64.StdEncoding.EncodeToString([]byte("secret")),
		Passphrase: "pass",
	}

	h1 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)
	h2 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "0xabc", h1["POLY_ADDRESS"])
	assert.Equal(t, "key-1", h1["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	// Different body changes the signature.
	h3 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":2}`, 1700000000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-abcdef"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
	assert.NotContains(t, s, "abcdef")
}

func TestSignerBuildOrderBuySide(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	order, err := s.BuildOrder(domain.OrderRequest{
		TokenID: "123456",
		Side:    domain.OrderSideBuy,
		Price:   0.45,
		Size:    100,
		Type:    domain.OrderTypeFAK,
	})
	require.NoError(t, err)

	// Buying 100 tokens at 0.45 pays 45 USDC: maker is collateral, taker tokens.
	assert.Equal(t, 0, order.MakerAmount.Cmp(big.NewInt(45_000_000)))
	assert.Equal(t, 0, order.TakerAmount.Cmp(big.NewInt(100_000_000)))
	assert.Equal(t, s.Address().Hex(), order.Wallet)
	assert.True(t, strings.HasPrefix(order.Signature, "0x"))
	assert.Len(t, order.Signature, 2+65*2)
}

func TestSignerBuildOrderSellSwapsAmounts(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 137)
	require.NoError(t, err)

	order, err := s.BuildOrder(domain.OrderRequest{
		TokenID: "123456",
		Side:    domain.OrderSideSell,
		Price:   0.52,
		Size:    50,
		Type:    domain.OrderTypeFAK,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, order.MakerAmount.Cmp(big.NewInt(50_000_000)))
	assert.Equal(t, 0, order.TakerAmount.Cmp(big.NewInt(26_000_000)))
}

func TestSignerBuildOrderRejectsBadInput(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	_, err = s.BuildOrder(domain.OrderRequest{TokenID: "1", Side: domain.OrderSideBuy, Price: 0, Size: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.BuildOrder(domain.OrderRequest{TokenID: "not-a-number", Side: domain.OrderSideBuy, Price: 0.5, Size: 10})
	require.Error(t, err)
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	sig, err := s.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	// Same inputs sign identically.
	sig2, err := s.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, sig, sig2)
}
