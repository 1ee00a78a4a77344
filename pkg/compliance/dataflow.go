package compliance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var (
	ErrAssetNotFound = errors.New("data asset not found")
	ErrFlowNotFound  = errors.New("data flow not found")
)

// DataCategory classifies a data asset for regulatory treatment.
type DataCategory string

const (
	CategoryPersonal  DataCategory = "personal"
	CategorySensitive DataCategory = "sensitive"
	CategoryFinancial DataCategory = "financial"
	CategoryHealth    DataCategory = "health"
	CategoryBiometric DataCategory = "biometric"
	CategoryChildren  DataCategory = "children"
	CategoryPublic    DataCategory = "public"
)

// ParseDataCategory validates a data category label.
func ParseDataCategory(s string) (DataCategory, error) {
	switch c := DataCategory(s); c {
	case CategoryPersonal, CategorySensitive, CategoryFinancial,
		CategoryHealth, CategoryBiometric, CategoryChildren, CategoryPublic:
		return c, nil
	default:
		return "", fmt.Errorf("invalid data category: %q", s)
	}
}

// DataAsset is one registered data holding.
type DataAsset struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Category     DataCategory `json:"category"`
	Jurisdiction string       `json:"jurisdiction,omitempty"`
	Owner        string       `json:"owner,omitempty"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// DataFlow is one directed movement of an asset to a destination.
// Flows whose destination jurisdiction differs from the asset's are
// cross-border and indexed separately for reporting.
type DataFlow struct {
	ID               string    `json:"id"`
	AssetID          string    `json:"asset_id"`
	Destination      string    `json:"destination"`
	DestJurisdiction string    `json:"dest_jurisdiction,omitempty"`
	Purpose          string    `json:"purpose,omitempty"`
	CrossBorder      bool      `json:"cross_border"`
	TransferBasis    string    `json:"transfer_basis,omitempty"` // SCCs, adequacy decision, BCRs
	MappedAt         time.Time `json:"mapped_at"`
}

// DataFlowMapper tracks data assets and the flows between systems.
type DataFlowMapper struct {
	mu          sync.RWMutex
	assets      map[string]*DataAsset
	flows       map[string]*DataFlow
	crossBorder []string // flow ids in mapping order
	stats       map[string]int
	clock       func() time.Time
}

// NewDataFlowMapper creates an empty mapper.
func NewDataFlowMapper() *DataFlowMapper {
	return &DataFlowMapper{
		assets: make(map[string]*DataAsset),
		flows:  make(map[string]*DataFlow),
		stats:  map[string]int{"assets": 0, "flows": 0, "cross_border": 0},
		clock:  time.Now,
	}
}

// WithClock overrides the time source. Returns the mapper for chaining.
func (m *DataFlowMapper) WithClock(clock func() time.Time) *DataFlowMapper {
	m.clock = clock
	return m
}

// RegisterAsset adds a data asset under a validated category.
func (m *DataFlowMapper) RegisterAsset(name string, category DataCategory, jurisdiction, owner string) (*DataAsset, error) {
	if name == "" {
		return nil, fmt.Errorf("asset name is required")
	}
	if _, err := ParseDataCategory(string(category)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	asset := &DataAsset{
		ID:           ident.New(ident.PrefixAsset),
		Name:         name,
		Category:     category,
		Jurisdiction: jurisdiction,
		Owner:        owner,
		RegisteredAt: m.clock(),
	}
	m.assets[asset.ID] = asset
	m.stats["assets"]++
	return asset, nil
}

// MapFlow records a directed flow of an asset to a destination system.
func (m *DataFlowMapper) MapFlow(assetID, destination, destJurisdiction, purpose string) (*DataFlow, error) {
	if destination == "" {
		return nil, fmt.Errorf("flow destination is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	asset, ok := m.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", assetID, ErrAssetNotFound)
	}
	flow := &DataFlow{
		ID:               ident.New(ident.PrefixFlow),
		AssetID:          assetID,
		Destination:      destination,
		DestJurisdiction: destJurisdiction,
		Purpose:          purpose,
		MappedAt:         m.clock(),
	}
	if asset.Jurisdiction != "" && destJurisdiction != "" &&
		!strings.EqualFold(asset.Jurisdiction, destJurisdiction) {
		flow.CrossBorder = true
		m.crossBorder = append(m.crossBorder, flow.ID)
		m.stats["cross_border"]++
	}
	m.flows[flow.ID] = flow
	m.stats["flows"]++
	return flow, nil
}

// SetTransferBasis records the legal transfer mechanism for a
// cross-border flow.
func (m *DataFlowMapper) SetTransferBasis(flowID, basis string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, ok := m.flows[flowID]
	if !ok {
		return fmt.Errorf("%q: %w", flowID, ErrFlowNotFound)
	}
	if !flow.CrossBorder {
		return fmt.Errorf("flow %q is not cross-border", flowID)
	}
	flow.TransferBasis = basis
	return nil
}

// Asset returns a data asset by id.
func (m *DataFlowMapper) Asset(id string) (*DataAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	asset, ok := m.assets[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrAssetNotFound)
	}
	return asset, nil
}

// AssetFlows lists fan-out flows for one asset ordered by mapping time.
func (m *DataFlowMapper) AssetFlows(assetID string) ([]*DataFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.assets[assetID]; !ok {
		return nil, fmt.Errorf("%q: %w", assetID, ErrAssetNotFound)
	}
	var out []*DataFlow
	for _, flow := range m.flows {
		if flow.AssetID == assetID {
			out = append(out, flow)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MappedAt.Equal(out[j].MappedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].MappedAt.Before(out[j].MappedAt)
	})
	return out, nil
}

// CrossBorderFlows lists cross-border flows in mapping order.
func (m *DataFlowMapper) CrossBorderFlows() []*DataFlow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DataFlow, 0, len(m.crossBorder))
	for _, id := range m.crossBorder {
		if flow, ok := m.flows[id]; ok {
			out = append(out, flow)
		}
	}
	return out
}

// UnderpinnedTransfers lists cross-border flows lacking a transfer
// basis, the set a compliance review must clear first.
func (m *DataFlowMapper) UnderpinnedTransfers() []*DataFlow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*DataFlow
	for _, id := range m.crossBorder {
		if flow, ok := m.flows[id]; ok && flow.TransferBasis == "" {
			out = append(out, flow)
		}
	}
	return out
}

// Stats returns the mapper's counters.
func (m *DataFlowMapper) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}
