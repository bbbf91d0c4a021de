package seed

import (
	"context"
	"errors"
	"fmt"

	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"go.uber.org/zap"
)

// Catalog is the sample catalog loaded into empty environments.
var Catalog = []productdomain.CreateRequest{
	{Name: "Blue T-Shirt", Description: "Soft cotton crew neck tee in ocean blue.", Category: "apparel", SubCategory: "t-shirts", Price: 1500, Score: 4.5, StockQuantity: 120},
	{Name: "Red T-Shirt", Description: "Soft cotton crew neck tee in cherry red.", Category: "apparel", SubCategory: "t-shirts", Price: 1500, Score: 4.2, StockQuantity: 80},
	{Name: "Black Hoodie", Description: "Heavyweight fleece hoodie with a kangaroo pocket.", Category: "apparel", SubCategory: "hoodies", Price: 4500, Score: 4.7, StockQuantity: 40},
	{Name: "Denim Jacket", Description: "Classic washed denim jacket with button front.", Category: "apparel", SubCategory: "jackets", Price: 7900, Score: 4.3, StockQuantity: 25},
	{Name: "Slim Chinos", Description: "Stretch cotton chinos with a tapered leg.", Category: "apparel", SubCategory: "trousers", Price: 3900, Score: 4.0, StockQuantity: 60},
	{Name: "Running Shoes", Description: "Lightweight mesh running shoes with cushioned sole.", Category: "footwear", SubCategory: "sneakers", Price: 8900, Score: 4.6, StockQuantity: 35},
	{Name: "White Sneakers", Description: "Minimal leather low-top sneakers.", Category: "footwear", SubCategory: "sneakers", Price: 6900, Score: 4.4, StockQuantity: 50},
	{Name: "Leather Boots", Description: "Waterproof leather ankle boots with lug sole.", Category: "footwear", SubCategory: "boots", Price: 12900, Score: 4.8, StockQuantity: 15},
	{Name: "Canvas Sandals", Description: "Breathable canvas sandals for summer.", Category: "footwear", SubCategory: "sandals", Price: 2900, Score: 3.9, StockQuantity: 45},
	{Name: "Wool Beanie", Description: "Ribbed merino wool beanie.", Category: "accessories", SubCategory: "hats", Price: 1900, Score: 4.1, StockQuantity: 70},
	{Name: "Baseball Cap", Description: "Adjustable cotton twill cap.", Category: "accessories", SubCategory: "hats", Price: 2200, Score: 4.0, StockQuantity: 90},
	{Name: "Leather Belt", Description: "Full grain leather belt with brass buckle.", Category: "accessories", SubCategory: "belts", Price: 3500, Score: 4.5, StockQuantity: 30},
	{Name: "Canvas Backpack", Description: "Water resistant canvas backpack with laptop sleeve.", Category: "accessories", SubCategory: "bags", Price: 5900, Score: 4.6, StockQuantity: 20},
	{Name: "Aviator Sunglasses", Description: "Polarized aviator sunglasses with metal frame.", Category: "accessories", SubCategory: "eyewear", Price: 4900, Score: 4.2, StockQuantity: 40},
}

// EnsureCatalog creates every catalog product that does not exist yet and
// reports how many were created. Existing products are left untouched.
func EnsureCatalog(ctx context.Context, products productdomain.Service, log *zap.Logger) (int, error) {
	if products == nil {
		return 0, errors.New("seed product service is required")
	}

	created := 0
	for _, req := range Catalog {
		if _, err := products.FindByName(ctx, req.Name); err == nil {
			continue
		} else if !errors.Is(err, productdomain.ErrNotFound) {
			return created, fmt.Errorf("lookup %q: %w", req.Name, err)
		}

		_, err := products.Create(ctx, req)
		switch {
		case errors.Is(err, productdomain.ErrAlreadyExists):
			continue
		case err != nil:
			return created, fmt.Errorf("create %q: %w", req.Name, err)
		}
		created++
	}

	if created > 0 {
		log.Info("catalog seeded", zap.Int("created", created), zap.Int("catalog_size", len(Catalog)))
	}
	return created, nil
}
