package engine

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictx/predictx/pkg/crypto"
)

func sampleOrder() *Order {
	return &Order{
		Maker:             common.HexToAddress("0x1111111111111111111111111111111111111111"),
		MarketID:          big.NewInt(42),
		ConditionID:       common.BytesToHash([]byte("btc-above-100k")),
		Outcome:           1,
		Collateral:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		PricePips:         6500,
		Amount:            big.NewInt(1_000_000),
		MakerFeeBps:       10,
		TakerFeeBps:       20,
		Expiry:            1_800_000_000,
		Salt:              big.NewInt(12345),
		Nonce:             big.NewInt(1),
		MintOnFill:        true,
		AllowedTaker:      common.Address{},
		ChainID:           testChainID,
		VerifyingContract: testContract,
	}
}

func TestHashOrderDeterministic(t *testing.T) {
	a, err := HashOrder(sampleOrder())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := HashOrder(sampleOrder())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a != b {
		t.Fatalf("identical orders hash to %s and %s", a.Hex(), b.Hex())
	}
}

func TestHashOrderFieldSensitivity(t *testing.T) {
	base, err := HashOrder(sampleOrder())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	mutations := map[string]func(*Order){
		"maker":       func(o *Order) { o.Maker = common.HexToAddress("0x3333333333333333333333333333333333333333") },
		"marketId":    func(o *Order) { o.MarketID = big.NewInt(43) },
		"conditionId": func(o *Order) { o.ConditionID = common.BytesToHash([]byte("other")) },
		"outcome":     func(o *Order) { o.Outcome = 0 },
		"pricePips":   func(o *Order) { o.PricePips = 6501 },
		"amount":      func(o *Order) { o.Amount = big.NewInt(999_999) },
		"expiry":      func(o *Order) { o.Expiry++ },
		"salt":        func(o *Order) { o.Salt = big.NewInt(54321) },
		"nonce":       func(o *Order) { o.Nonce = big.NewInt(2) },
		"mintOnFill":  func(o *Order) { o.MintOnFill = false },
		"chainId":     func(o *Order) { o.ChainID++ },
	}

	for name, mutate := range mutations {
		o := sampleOrder()
		mutate(o)
		h, err := HashOrder(o)
		if err != nil {
			t.Fatalf("%s: hash: %v", name, err)
		}
		if h == base {
			t.Errorf("changing %s did not change the digest", name)
		}
	}
}

func TestHashOrderNilBigFields(t *testing.T) {
	o := sampleOrder()
	o.MarketID = nil
	o.Salt = nil
	o.Nonce = nil
	// Nil big fields hash as zero rather than panicking.
	if _, err := HashOrder(o); err != nil {
		t.Fatalf("hash with nil big fields: %v", err)
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	o := sampleOrder()
	o.Maker = signer.Address()

	sig, err := SignOrder(signer, o)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	recovered, err := RecoverMaker(o, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestRecoverSignerNormalizesWalletV(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	o := sampleOrder()
	o.Maker = signer.Address()

	digest, err := HashOrder(o)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	wallet := append([]byte(nil), sig...)
	wallet[64] += 27

	for _, s := range [][]byte{sig, wallet} {
		recovered, err := RecoverSigner(digest, s)
		if err != nil {
			t.Fatalf("recover v=%d: %v", s[64], err)
		}
		if recovered != signer.Address() {
			t.Fatalf("recover v=%d: got %s", s[64], recovered.Hex())
		}
	}
}

func TestRecoverSignerRejectsBadLength(t *testing.T) {
	if _, err := RecoverSigner(common.Hash{}, make([]byte, 64)); err == nil {
		t.Fatal("64-byte signature must be rejected")
	}
}
