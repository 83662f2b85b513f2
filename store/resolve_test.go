package store

import (
	"testing"

	"quantstore/market"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref       string
		typ       market.SecurityType
		exchanges []string
		code      string
	}{
		{"stock_sh_600000", market.TypeStock, []string{"sh"}, "600000"},
		{"future_shfe_rb1805", market.TypeFuture, []string{"shfe"}, "rb1805"},
		{"coin_binance_BTC-USDT", market.TypeCoin, []string{"binance"}, "BTC-USDT"},
		{"rb1805", market.TypeFuture, []string{"shfe"}, "rb1805"},
		{"600000", market.TypeStock, []string{"sh", "sz"}, "600000"},
		{"AAPL", market.TypeStock, []string{"nasdaq"}, "AAPL"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			key, err := parseRef(tt.ref)
			if err != nil {
				t.Fatalf("parseRef: %v", err)
			}
			if key.typ != tt.typ || key.code != tt.code || len(key.exchanges) != len(tt.exchanges) {
				t.Fatalf("got %+v", key)
			}
			for i := range tt.exchanges {
				if key.exchanges[i] != tt.exchanges[i] {
					t.Errorf("exchange %d = %s, want %s", i, key.exchanges[i], tt.exchanges[i])
				}
			}
		})
	}
}

func TestParseRefRejects(t *testing.T) {
	for _, ref := range []string{"", "60000", "aapl", "bond_sh_1"} {
		if _, err := parseRef(ref); !market.IsConfiguration(err) {
			t.Errorf("parseRef(%q) = %v, want ConfigurationError", ref, err)
		}
	}
}

func TestResolveDeterminism(t *testing.T) {
	s := newTestStore(t)
	seedRegistry(t, s)

	byID, err := s.Resolve(TextRef("stock_sh_600000"))
	if err != nil {
		t.Fatalf("resolve id: %v", err)
	}
	byLookup, err := s.Registry().Lookup(market.TypeStock, []string{"sh"}, "600000")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if byID != byLookup {
		t.Errorf("resolve = %+v, lookup = %+v", byID, byLookup)
	}
}

func TestResolveBareCode(t *testing.T) {
	s := newTestStore(t)
	seedRegistry(t, s)

	sec, err := s.Resolve(TextRef("600000"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sec.ID != "stock_sh_600000" || sec.Type != market.TypeStock {
		t.Errorf("got %+v", sec)
	}
}

func TestResolveErrors(t *testing.T) {
	s := newTestStore(t)
	seedRegistry(t, s)

	if _, err := s.Resolve(TextRef("601988")); !market.IsNotFound(err) {
		t.Errorf("unknown code: expected NotFoundError, got %v", err)
	}
	// 000001 is listed on both sh and sz.
	if _, err := s.Resolve(TextRef("000001")); !market.IsAmbiguous(err) {
		t.Errorf("duplicate code: expected AmbiguousReferenceError, got %v", err)
	}
	if _, err := s.Resolve(TextRef("stock_sz_000001")); err != nil {
		t.Errorf("composite id should disambiguate: %v", err)
	}
}

func TestResolveExplicitSecurity(t *testing.T) {
	s := newTestStore(t)

	sec, err := s.Resolve(SecurityRef(market.Security{Type: market.TypeFuture, Exchange: "dce", Code: "m1805"}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sec.ID != "future_dce_m1805" {
		t.Errorf("id = %s", sec.ID)
	}
	if _, err := s.Resolve(SecurityRef(market.Security{Type: market.TypeStock, Code: "600000"})); !market.IsConfiguration(err) {
		t.Errorf("missing exchange: expected ConfigurationError, got %v", err)
	}
}

func TestResolveMissingRegistry(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Resolve(TextRef("AAPL")); !market.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
