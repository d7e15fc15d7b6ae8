package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
)

type CartItem struct {
	LineId    string          `json:"line_id"`
	ProductId int             `json:"product_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image"`
	Color     string          `json:"color"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
}

type NewCartItem struct {
	ProductId int    `json:"product_id" binding:"required"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

// Cart is a shopper's basket. Prices here are for display; checkout re-reads the catalog.
type Cart struct {
	Id        string     `json:"id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func CartLineId(productId int, color string, size string) string {
	return fmt.Sprintf("%d-%s-%s", productId, color, size)
}

func (c *Cart) Add(item CartItem) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	item.LineId = CartLineId(item.ProductId, item.Color, item.Size)
	for i := range c.Items {
		if c.Items[i].LineId == item.LineId {
			c.Items[i].Quantity += item.Quantity
			return
		}
	}
	c.Items = append(c.Items, item)
}

// UpdateQuantity sets a line's quantity; below 1 removes it. False when the line is absent.
func (c *Cart) UpdateQuantity(lineId string, quantity int) bool {
	if quantity < 1 {
		return c.Remove(lineId)
	}
	for i := range c.Items {
		if c.Items[i].LineId == lineId {
			c.Items[i].Quantity = quantity
			return true
		}
	}
	return false
}

func (c *Cart) Remove(lineId string) bool {
	for i := range c.Items {
		if c.Items[i].LineId == lineId {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func (c *Cart) Count() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// CartStore keeps carts as JSON documents under Cart:{id}.
type CartStore struct {
	ttl time.Duration
}

func NewCartStore() *CartStore {
	return &CartStore{ttl: config.GetStoreConfig().CartTTL}
}

func cartKey(cartId string) string {
	return "Cart:" + cartId
}

// Get returns an empty cart when none is stored.
func (s *CartStore) Get(ctx context.Context, cartId string) (*Cart, error) {
	cartId = strings.TrimSpace(cartId)
	if cartId == "" {
		return nil, utils.NewSelectionError(-1, "cart id is required")
	}
	if config.GetRedisDB() == nil {
		return nil, utils.WrapStorageFault("get cart", errors.New("redis not ready"))
	}
	cart := Cart{Id: cartId}
	exists, err := config.GetRedisObject(cartKey(cartId), &cart)
	if err != nil {
		return nil, utils.WrapStorageFault("get cart", err)
	}
	if !exists || cart.Items == nil {
		cart.Items = []CartItem{}
	}
	cart.Id = cartId
	return &cart, nil
}

func (s *CartStore) save(cart *Cart) error {
	cart.UpdatedAt = time.Now().UTC()
	if err := config.SetRedisObject(cartKey(cart.Id), cart, s.ttl); err != nil {
		return utils.WrapStorageFault("save cart", err)
	}
	return nil
}

// Add snapshots the product's current title, price and image into the cart line.
func (s *CartStore) Add(ctx context.Context, cartId string, input NewCartItem) (*Cart, error) {
	product, err := GetProduct(ctx, input.ProductId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, fmt.Errorf("%w: product %d", utils.ErrVariantNotFound, input.ProductId)
	}
	if err != nil {
		return nil, err
	}
	if product.IsDeleted {
		return nil, fmt.Errorf("%w: product %d", utils.ErrVariantNotFound, input.ProductId)
	}
	color, size := strings.TrimSpace(input.Color), strings.TrimSpace(input.Size)
	if product.HasVariants() && (color == "" || size == "") {
		return nil, utils.NewSelectionError(-1, "please select a color and size")
	}

	cart, err := s.Get(ctx, cartId)
	if err != nil {
		return nil, err
	}
	cart.Add(CartItem{
		ProductId: product.ID,
		Title:     product.Title,
		Price:     product.Price,
		Image:     product.DisplayImage(color),
		Color:     color,
		Size:      size,
		Quantity:  input.Quantity,
	})
	if err := s.save(cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartStore) UpdateQuantity(ctx context.Context, cartId string, lineId string, quantity int) (*Cart, error) {
	cart, err := s.Get(ctx, cartId)
	if err != nil {
		return nil, err
	}
	if !cart.UpdateQuantity(lineId, quantity) {
		return nil, utils.ErrorRecordNotFound
	}
	if err := s.save(cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartStore) Remove(ctx context.Context, cartId string, lineId string) (*Cart, error) {
	cart, err := s.Get(ctx, cartId)
	if err != nil {
		return nil, err
	}
	if !cart.Remove(lineId) {
		return nil, utils.ErrorRecordNotFound
	}
	if err := s.save(cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartStore) Clear(ctx context.Context, cartId string) error {
	if strings.TrimSpace(cartId) == "" {
		return nil
	}
	if err := config.RemoveRedisKey(cartKey(cartId)); err != nil {
		return utils.WrapStorageFault("clear cart", err)
	}
	return nil
}
