package data

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bess-dispatch/internal/market"
)

// PriceRecord is one price observation in a price file.
type PriceRecord struct {
	Country    string    `json:"country"`
	Instrument string    `json:"instrument"`
	Time       time.Time `json:"time"`
	Price      float64   `json:"price"`
}

// PriceFile is the on-disk price set. Prices are EUR/MWh for energy
// instruments and EUR/MW/h for capacity instruments.
type PriceFile struct {
	Data []PriceRecord `json:"data"`
}

func LoadPricesJSON(path string) (*PriceFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pf, err := DecodePrices(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pf, nil
}

func DecodePrices(r io.Reader) (*PriceFile, error) {
	var pf PriceFile
	if err := json.NewDecoder(r).Decode(&pf); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	return &pf, nil
}

// GroupByCountry splits a file into country-keyed slices.
func GroupByCountry(pf *PriceFile) map[string][]PriceRecord {
	out := map[string][]PriceRecord{}
	if pf == nil {
		return out
	}
	for _, r := range pf.Data {
		c := strings.ToUpper(r.Country)
		out[c] = append(out[c], r)
	}
	return out
}

// ToSet materialises a price file into a market.Set.
func ToSet(pf *PriceFile) (*market.Set, error) {
	set := market.NewSet()
	if pf == nil {
		return set, nil
	}
	type key struct {
		country string
		in      market.Instrument
	}
	grouped := map[key][]market.Point{}
	var order []key
	for i, r := range pf.Data {
		if r.Country == "" {
			return nil, fmt.Errorf("record %d: missing country", i)
		}
		in, err := market.ParseInstrument(r.Instrument)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		k := key{strings.ToUpper(r.Country), in}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], market.Point{Time: r.Time, Price: r.Price})
	}
	for _, k := range order {
		set.Add(k.country, k.in, grouped[k]...)
	}
	return set, nil
}

// LoadSet reads a price file straight into a market.Set.
func LoadSet(path string) (*market.Set, error) {
	pf, err := LoadPricesJSON(path)
	if err != nil {
		return nil, err
	}
	return ToSet(pf)
}
