package registry

import (
	"errors"
	"sync"
)

var (
	ErrSaleNotFound = errors.New("sale not found")
	ErrUnauthorized = errors.New("caller is not the sale owner")
)

// Registry is the multi-indexed store of active listings. The primary
// index maps sale keys to sales; the secondary indices keep, per seller
// and per collection, the keys in insertion order so paginated reads are
// stable. All three indices mutate under one lock.
type Registry struct {
	mu           sync.RWMutex
	sales        map[string]Sale
	bySeller     map[string][]string // seller -> sale keys
	byCollection map[string][]string // collection -> asset ids
}

func New() *Registry {
	return &Registry{
		sales:        make(map[string]Sale),
		bySeller:     make(map[string][]string),
		byCollection: make(map[string][]string),
	}
}

// Insert adds a sale to all indices, creating secondary indices lazily.
// Re-inserting an existing key replaces the sale without duplicating
// index entries.
func (r *Registry) Insert(sale Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}

	key := sale.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sales[key]; ok {
		// Same key listed again: the previous entry leaves every index
		// first so a seller change cannot strand an index entry.
		r.removeLocked(existing)
	}

	r.sales[key] = sale
	r.bySeller[sale.Seller] = append(r.bySeller[sale.Seller], key)
	r.byCollection[sale.CollectionID] = append(r.byCollection[sale.CollectionID], sale.AssetID)
	return nil
}

// Remove deletes a sale from all indices and returns it. Secondary
// indices that become empty are deleted outright.
func (r *Registry) Remove(collectionID, assetID string) (Sale, error) {
	return r.RemoveIf(collectionID, assetID, nil)
}

// RemoveIf removes the sale only when check passes, holding the lock
// across both so no concurrent caller can claim the same sale. A check
// failure leaves the registry untouched.
func (r *Registry) RemoveIf(collectionID, assetID string, check func(Sale) error) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sale, ok := r.sales[SaleKey(collectionID, assetID)]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	if check != nil {
		if err := check(sale); err != nil {
			return Sale{}, err
		}
	}
	r.removeLocked(sale)
	return sale, nil
}

func (r *Registry) removeLocked(sale Sale) {
	key := sale.Key()
	delete(r.sales, key)

	sellerKeys := dropValue(r.bySeller[sale.Seller], key)
	if len(sellerKeys) == 0 {
		delete(r.bySeller, sale.Seller)
	} else {
		r.bySeller[sale.Seller] = sellerKeys
	}

	assetIDs := dropValue(r.byCollection[sale.CollectionID], sale.AssetID)
	if len(assetIDs) == 0 {
		delete(r.byCollection, sale.CollectionID)
	} else {
		r.byCollection[sale.CollectionID] = assetIDs
	}
}

// Update fetches the sale, verifies the caller owns it, applies the
// mutator and stores the result. Seller, collection and asset of the
// sale cannot change through updates.
func (r *Registry) Update(collectionID, assetID, caller string, mutate func(*Sale) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := SaleKey(collectionID, assetID)
	sale, ok := r.sales[key]
	if !ok {
		return ErrSaleNotFound
	}
	if sale.Seller != caller {
		return ErrUnauthorized
	}

	updated := sale
	if err := mutate(&updated); err != nil {
		return err
	}
	updated.Seller = sale.Seller
	updated.CollectionID = sale.CollectionID
	updated.AssetID = sale.AssetID
	if err := updated.Validate(); err != nil {
		return err
	}

	r.sales[key] = updated
	return nil
}

func (r *Registry) Get(collectionID, assetID string) (Sale, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.sales[SaleKey(collectionID, assetID)]
	return sale, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sales)
}

func (r *Registry) CountBySeller(seller string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySeller[seller])
}

func (r *Registry) CountByCollection(collectionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCollection[collectionID])
}

// BySeller returns the seller's sales in insertion order. An offset past
// the end or a zero limit yields an empty slice.
func (r *Registry) BySeller(seller string, offset, limit int) []Sale {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := paginate(r.bySeller[seller], offset, limit)
	sales := make([]Sale, 0, len(keys))
	for _, key := range keys {
		if sale, ok := r.sales[key]; ok {
			sales = append(sales, sale)
		}
	}
	return sales
}

// ByCollection returns the collection's sales in insertion order.
func (r *Registry) ByCollection(collectionID string, offset, limit int) []Sale {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assetIDs := paginate(r.byCollection[collectionID], offset, limit)
	sales := make([]Sale, 0, len(assetIDs))
	for _, assetID := range assetIDs {
		if sale, ok := r.sales[SaleKey(collectionID, assetID)]; ok {
			sales = append(sales, sale)
		}
	}
	return sales
}

// All returns every sale in unspecified order, for snapshot persistence.
func (r *Registry) All() []Sale {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sales := make([]Sale, 0, len(r.sales))
	for _, sale := range r.sales {
		sales = append(sales, sale)
	}
	return sales
}

func paginate(items []string, offset, limit int) []string {
	if offset < 0 || limit <= 0 || offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func dropValue(items []string, value string) []string {
	for i, item := range items {
		if item == value {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
