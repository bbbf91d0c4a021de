package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
)

type productView struct {
	ID            snowflake.ID `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	SubCategory   string       `json:"sub_category,omitempty"`
	Price         int64        `json:"price"`
	Currency      string       `json:"currency"`
	Score         float64      `json:"score"`
	StockQuantity int64        `json:"stock_quantity"`
}

func newProductView(p productdomain.Product) productView {
	return productView{
		ID:            snowflake.ID(p.ID),
		Name:          p.Name,
		Description:   p.Description,
		Category:      p.Category,
		SubCategory:   p.SubCategory,
		Price:         p.Price,
		Currency:      p.Currency,
		Score:         p.Score,
		StockQuantity: p.StockQuantity,
	}
}

// ListProducts browses the catalog. q takes precedence over category.
func (s *Server) ListProducts(c *gin.Context) {
	var query struct {
		Q                  string `form:"q"`
		Category           string `form:"category"`
		ExcludeSubCategory string `form:"exclude_sub_category"`
		Limit              string `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	limit, err := parseOptionalInt(query.Limit)
	if err != nil || (limit != nil && *limit <= 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	ctx := c.Request.Context()
	var products []productdomain.Product
	switch q, category := strings.TrimSpace(query.Q), strings.TrimSpace(query.Category); {
	case q != "":
		products, err = s.products.Search(ctx, q)
	case category != "":
		var exclude *string
		if v := strings.TrimSpace(query.ExcludeSubCategory); v != "" {
			exclude = &v
		}
		products, err = s.products.FindByCategory(ctx, category, exclude)
	default:
		products, err = s.products.ListAll(ctx)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if limit != nil && len(products) > *limit {
		products = products[:*limit]
	}
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, newProductView(p))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetProduct(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_product_id", "invalid product id"))
		return
	}

	product, err := s.products.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newProductView(*product)})
}
