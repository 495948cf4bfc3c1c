package models

// Product is a catalog entry. The catalog is read-only.
type Product struct {
	ID          string  `json:"productId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Image       string  `json:"image"`
	Category    string  `json:"category"`
	InStock     bool    `json:"inStock"`
	Rating      float64 `json:"rating"`
}

// ProductFilter narrows catalog listings. Search matches name or description,
// case-insensitively.
type ProductFilter struct {
	Category string
	Search   string
}
