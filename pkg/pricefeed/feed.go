package pricefeed

import (
	"errors"
	"sync"
	"time"
)

// ErrUnknownAsset indicates no quote exists for the asset
var ErrUnknownAsset = errors.New("no quote for asset")

// Quote is a point-in-time price observation
type Quote struct {
	Value     uint64    `json:"value"`
	Decimals  uint8     `json:"decimals"`
	Timestamp time.Time `json:"timestamp"`
}

// Feed is the read-only price-feed collaborator
type Feed interface {
	PriceOf(asset string) (Quote, error)
}

// Static is an in-memory Feed fed by an external process
type Static struct {
	quotes map[string]Quote
	mutex  sync.RWMutex
}

// NewStatic creates an empty static feed
func NewStatic() *Static {
	return &Static{quotes: make(map[string]Quote)}
}

// Set stores the latest quote for an asset
func (s *Static) Set(asset string, value uint64, decimals uint8, at time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.quotes[asset] = Quote{Value: value, Decimals: decimals, Timestamp: at}
}

// PriceOf returns the latest quote for an asset
func (s *Static) PriceOf(asset string) (Quote, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	quote, exists := s.quotes[asset]
	if !exists {
		return Quote{}, ErrUnknownAsset
	}
	return quote, nil
}
