package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/exchange"
	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

type OrderHandler struct {
	proto *service.Protocol
}

func NewOrderHandler(proto *service.Protocol) *OrderHandler {
	return &OrderHandler{proto: proto}
}

func (h *OrderHandler) parseOrder(c *gin.Context, dto *model.OrderDTO) (*signer.Order, bool) {
	o, err := dto.ToOrder()
	return o, invalid(c, err)
}

func (h *OrderHandler) parseOrders(c *gin.Context, dtos []model.OrderDTO) ([]*signer.Order, bool) {
	out := make([]*signer.Order, len(dtos))
	for i := range dtos {
		o, ok := h.parseOrder(c, &dtos[i])
		if !ok {
			return nil, false
		}
		out[i] = o
	}
	return out, true
}

// HashOrder returns the order's struct hash, its exchange digest and the
// current fill status.
func (h *OrderHandler) HashOrder(c *gin.Context) {
	var dto model.OrderDTO
	if !bind(c, &dto) {
		return
	}
	order, ok := h.parseOrder(c, &dto)
	if !ok {
		return
	}
	hash := h.proto.Exchange.HashOrder(order)
	status := h.proto.Exchange.GetOrderStatus(hash)
	remaining := status.Remaining
	if remaining == nil && !status.IsFilledOrCancelled {
		// never filled: the whole maker amount is open
		remaining = order.MakerAmount
	}
	c.JSON(http.StatusOK, model.OrderHashResponse{
		Hash:      signer.HashOrder(order).Hex(),
		Digest:    hash.Hex(),
		Price:     model.ImpliedPrice(order),
		Remaining: bigString(remaining),
		Filled:    status.IsFilledOrCancelled,
	})
}

// BuildTypedOrder returns the EIP-712 payload a maker signs.
func (h *OrderHandler) BuildTypedOrder(c *gin.Context) {
	var dto model.OrderDTO
	if !bind(c, &dto) {
		return
	}
	order, ok := h.parseOrder(c, &dto)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, model.TypedOrderResponse{
		Order:     model.OrderToDTO(order),
		TypedData: h.proto.Exchange.Domain().TypedData(order),
	})
}

func (h *OrderHandler) ValidateOrder(c *gin.Context) {
	var dto model.OrderDTO
	if !bind(c, &dto) {
		return
	}
	order, ok := h.parseOrder(c, &dto)
	if !ok {
		return
	}
	if err := h.proto.Exchange.ValidateOrder(c.Request.Context(), order); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "hash": h.proto.Exchange.HashOrder(order).Hex()})
}

func (h *OrderHandler) FillOrder(c *gin.Context) {
	var req model.FillRequest
	if !bind(c, &req) {
		return
	}
	order, ok := h.parseOrder(c, &req.Order)
	if !ok {
		return
	}
	amount, err := model.ParseAmount("fill_amount", req.FillAmount)
	if !invalid(c, err) {
		return
	}

	fill, err := h.proto.Exchange.FillOrder(c.Request.Context(), middleware.Caller(c), order, amount)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "order_hash", fill.OrderHash.Hex())
	c.JSON(http.StatusOK, fillResponse(fill, order))
}

// FillOrders settles each entry independently; failed entries carry an error
// string instead of failing the batch.
func (h *OrderHandler) FillOrders(c *gin.Context) {
	var req model.FillsRequest
	if !bind(c, &req) {
		return
	}
	orders, ok := h.parseOrders(c, req.Orders)
	if !ok {
		return
	}
	amounts, err := model.ParseAmounts("fill_amounts", req.FillAmounts)
	if !invalid(c, err) {
		return
	}

	results, err := h.proto.Exchange.FillOrders(c.Request.Context(), middleware.Caller(c), orders, amounts)
	if err != nil {
		c.Error(err)
		return
	}
	out := make([]model.FillResponse, len(results))
	filled := 0
	for i, r := range results {
		if r.Err != nil {
			out[i] = model.FillResponse{
				OrderHash: h.proto.Exchange.HashOrder(orders[i]).Hex(),
				Error:     r.Err.Error(),
			}
			continue
		}
		filled++
		out[i] = fillResponse(r.Fill, orders[i])
	}
	middleware.AddAuditContext(c, "filled", filled)
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (h *OrderHandler) MatchOrders(c *gin.Context) {
	var req model.MatchRequest
	if !bind(c, &req) {
		return
	}
	taker, ok := h.parseOrder(c, &req.TakerOrder)
	if !ok {
		return
	}
	makers, ok := h.parseOrders(c, req.MakerOrders)
	if !ok {
		return
	}
	takerFill, err := model.ParseAmount("taker_fill_amount", req.TakerFillAmount)
	if !invalid(c, err) {
		return
	}
	makerFills, err := model.ParseAmounts("maker_fill_amounts", req.MakerFillAmounts)
	if !invalid(c, err) {
		return
	}

	res, err := h.proto.Exchange.MatchOrders(c.Request.Context(), middleware.Caller(c), taker, makers, takerFill, makerFills)
	if err != nil {
		c.Error(err)
		return
	}
	resp := model.MatchResponse{
		TakerOrderHash: res.TakerOrderHash.Hex(),
		Making:         bigString(res.Making),
		Taking:         bigString(res.Taking),
		Fee:            bigString(res.Fee),
		Refund:         bigString(res.Refund),
		MatchTypes:     make([]string, len(res.MatchTypes)),
		MakerFills:     make([]model.FillResponse, len(res.MakerFills)),
	}
	for i, mt := range res.MatchTypes {
		resp.MatchTypes[i] = mt.String()
	}
	for i, f := range res.MakerFills {
		resp.MakerFills[i] = fillResponse(f, makers[i])
	}
	middleware.AddAuditContext(c, "order_hash", resp.TakerOrderHash)
	c.JSON(http.StatusOK, resp)
}

func (h *OrderHandler) GetOrderStatus(c *gin.Context) {
	hash, ok := pathHash(c, "hash")
	if !ok {
		return
	}
	status := h.proto.Exchange.GetOrderStatus(hash)
	c.JSON(http.StatusOK, gin.H{
		"hash":                   hash.Hex(),
		"remaining":              bigString(status.Remaining),
		"is_filled_or_cancelled": status.IsFilledOrCancelled,
	})
}

func (h *OrderHandler) GetNonce(c *gin.Context) {
	addr, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "nonce": bigString(h.proto.Exchange.Nonce(addr))})
}

// IncrementNonce invalidates every open order the caller signed under the
// current nonce.
func (h *OrderHandler) IncrementNonce(c *gin.Context) {
	caller := middleware.Caller(c)
	nonce := h.proto.Exchange.IncrementNonce(c.Request.Context(), caller)
	c.JSON(http.StatusOK, gin.H{"address": caller.Hex(), "nonce": bigString(nonce)})
}

func fillResponse(f *exchange.Fill, order *signer.Order) model.FillResponse {
	return model.FillResponse{
		OrderHash:    f.OrderHash.Hex(),
		Maker:        f.Maker.Hex(),
		Taker:        f.Taker.Hex(),
		MakerAssetID: bigString(f.MakerAssetID),
		TakerAssetID: bigString(f.TakerAssetID),
		Making:       bigString(f.Making),
		Taking:       bigString(f.Taking),
		Fee:          bigString(f.Fee),
		Price:        model.ImpliedPrice(order),
	}
}
