// internal/market/universe.go
package market

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Listing is a token the simulator may offer. An empty Mint gets a random
// address on every draw.
type Listing struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
	Mint   string `yaml:"mint"`
}

type universeFile struct {
	Tokens []Listing `yaml:"tokens"`
}

var defaultUniverse = []Listing{
	{Symbol: "PEPE", Name: "Pepe Sol"},
	{Symbol: "DOGE2", Name: "Doge Two"},
	{Symbol: "MOONC", Name: "Moon Cat"},
	{Symbol: "WIF", Name: "Dog Wif Hat"},
	{Symbol: "BONK", Name: "Bonk"},
	{Symbol: "MARS", Name: "Mars Rover"},
	{Symbol: "SAMO", Name: "Samoyed"},
	{Symbol: "FROG", Name: "Frog Coin"},
	{Symbol: "GIGA", Name: "Gigachad"},
	{Symbol: "ELONX", Name: "Elon Rocket"},
}

// LoadUniverse reads listings from a YAML file of the form
//
//	tokens:
//	  - symbol: PEPE
//	    name: Pepe
//	    mint: <base58, optional>
func LoadUniverse(path string) ([]Listing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe: %w", err)
	}

	var f universeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse universe: %w", err)
	}
	if len(f.Tokens) == 0 {
		return nil, fmt.Errorf("universe %s lists no tokens", path)
	}
	for i, l := range f.Tokens {
		if l.Symbol == "" {
			return nil, fmt.Errorf("universe token %d: symbol is required", i)
		}
		if l.Mint != "" && !ValidMint(l.Mint) {
			return nil, fmt.Errorf("universe token %s: invalid mint %q", l.Symbol, l.Mint)
		}
	}
	return f.Tokens, nil
}
