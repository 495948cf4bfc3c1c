package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"storefront/internal/apperrors"
	"storefront/internal/models"
)

// CatalogRepository is an in-memory, read-only implementation of ProductRepository.
type CatalogRepository struct {
	products []models.Product
	mu       sync.RWMutex
}

// NewCatalogRepository creates a catalog holding products. A nil slice loads
// the default catalog.
func NewCatalogRepository(products []models.Product) *CatalogRepository {
	if products == nil {
		products = DefaultCatalog()
	}
	return &CatalogRepository{
		products: products,
	}
}

// GetAll returns the products matching filter in catalog order.
func (r *CatalogRepository) GetAll(_ context.Context, filter models.ProductFilter) ([]models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	productList := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		productList = append(productList, p)
	}
	return productList, nil
}

// GetByID returns a product by its ID.
func (r *CatalogRepository) GetByID(_ context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.products {
		if p.ID == id {
			product := p
			return &product, nil
		}
	}
	return nil, apperrors.NotFound("Product not found")
}

// Categories returns the distinct product categories, sorted.
func (r *CatalogRepository) Categories(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, p := range r.products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// DefaultCatalog returns the storefront's built-in products.
func DefaultCatalog() []models.Product {
	return []models.Product{
		{ID: "prod_001", Name: "Wireless Bluetooth Headphones", Description: "Premium noise-cancelling wireless headphones with 30-hour battery life", Price: 89.99, Image: "https://images.unsplash.com/photo-1505740420928-5e560c06d30e?w=500", Category: "Electronics", InStock: true, Rating: 4.5},
		{ID: "prod_002", Name: "Smart Fitness Watch", Description: "Track your fitness goals with this advanced smartwatch", Price: 199.99, Image: "https://images.unsplash.com/photo-1523275335684-37898b6baf30?w=500", Category: "Wearables", InStock: true, Rating: 4.7},
		{ID: "prod_003", Name: "Portable USB-C Charger", Description: "20000mAh power bank with fast charging capability", Price: 45.99, Image: "https://images.unsplash.com/photo-1609091839311-d5365f9ff1c5?w=500", Category: "Accessories", InStock: true, Rating: 4.3},
		{ID: "prod_004", Name: "Mechanical Gaming Keyboard", Description: "RGB backlit mechanical keyboard with customizable keys", Price: 129.99, Image: "https://images.unsplash.com/photo-1587829741301-dc798b83add3?w=500", Category: "Gaming", InStock: true, Rating: 4.8},
		{ID: "prod_005", Name: "HD Webcam with Microphone", Description: "1080p webcam perfect for video calls and streaming", Price: 79.99, Image: "https://images.unsplash.com/photo-1625948515291-69613efd103f?w=500", Category: "Electronics", InStock: true, Rating: 4.4},
		{ID: "prod_006", Name: "Ergonomic Wireless Mouse", Description: "Comfortable wireless mouse with precision tracking", Price: 34.99, Image: "https://images.unsplash.com/photo-1527864550417-7fd91fc51a46?w=500", Category: "Accessories", InStock: true, Rating: 4.6},
		{ID: "prod_007", Name: "USB Desk Microphone", Description: "Professional-grade USB microphone for podcasts and streaming", Price: 149.99, Image: "https://images.unsplash.com/photo-1590602847861-f357a9332bbc?w=500", Category: "Audio", InStock: true, Rating: 4.7},
		{ID: "prod_008", Name: "Laptop Stand", Description: "Adjustable aluminum laptop stand for better ergonomics", Price: 39.99, Image: "https://images.unsplash.com/photo-1527864550417-7fd91fc51a46?w=500", Category: "Accessories", InStock: true, Rating: 4.5},
		{ID: "prod_009", Name: "LED Desk Lamp", Description: "Adjustable LED desk lamp with USB charging port", Price: 54.99, Image: "https://images.unsplash.com/photo-1513506003901-1e6a229e2d15?w=500", Category: "Home", InStock: true, Rating: 4.2},
		{ID: "prod_010", Name: "Phone Holder Stand", Description: "Universal adjustable phone holder for desk", Price: 19.99, Image: "https://images.unsplash.com/photo-1601784551446-20c9e07cdbdb?w=500", Category: "Accessories", InStock: true, Rating: 4.1},
		{ID: "prod_011", Name: "Wireless Earbuds", Description: "True wireless earbuds with charging case", Price: 69.99, Image: "https://images.unsplash.com/photo-1590658268037-6bf12165a8df?w=500", Category: "Audio", InStock: true, Rating: 4.6},
		{ID: "prod_012", Name: "External SSD 1TB", Description: "Portable solid-state drive with ultra-fast transfer speeds", Price: 159.99, Image: "https://images.unsplash.com/photo-1597872200969-2b65d56bd16b?w=500", Category: "Storage", InStock: true, Rating: 4.8},
	}
}
