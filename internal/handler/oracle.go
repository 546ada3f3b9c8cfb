package handler

import (
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/oracle"
)

type OracleHandler struct {
	resolver *oracle.Resolver
}

func NewOracleHandler(r *oracle.Resolver) *OracleHandler {
	return &OracleHandler{resolver: r}
}

// RequestPrice opens a request. Ancillary data is taken as hex when
// 0x-prefixed and as raw text otherwise.
func (h *OracleHandler) RequestPrice(c *gin.Context) {
	var req model.PriceRequest
	if !bind(c, &req) {
		return
	}
	ancillary := []byte(req.AncillaryData)
	if strings.HasPrefix(req.AncillaryData, "0x") {
		var err error
		if ancillary, err = hexutil.Decode(req.AncillaryData); !invalid(c, err) {
			return
		}
	}
	bond, err := model.ParseAmount("bond", req.Bond)
	if !invalid(c, err) {
		return
	}

	id, err := h.resolver.RequestPriceFor(c.Request.Context(), middleware.Caller(c), ancillary, bond,
		time.Duration(req.LivenessSeconds)*time.Second, req.OutcomeSlotCount)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "request_id", id.Hex())
	h.respond(c, id)
}

func (h *OracleHandler) ListRequests(c *gin.Context) {
	reqs := h.resolver.Requests()
	phase := strings.ToUpper(c.Query("phase"))
	out := make([]gin.H, 0, len(reqs))
	for i := range reqs {
		if phase != "" && reqs[i].Phase().String() != phase {
			continue
		}
		out = append(out, requestResponse(&reqs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (h *OracleHandler) GetRequest(c *gin.Context) {
	id, ok := pathHash(c, "id")
	if !ok {
		return
	}
	h.respond(c, id)
}

func (h *OracleHandler) ProposePrice(c *gin.Context) {
	id, ok := pathHash(c, "id")
	if !ok {
		return
	}
	var req model.ProposeRequest
	if !bind(c, &req) {
		return
	}
	price, err := model.ParseSigned("price", req.Price)
	if !invalid(c, err) {
		return
	}
	if err := h.resolver.ProposePrice(c.Request.Context(), middleware.Caller(c), id, price); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "request_id", id.Hex())
	h.respond(c, id)
}

func (h *OracleHandler) DisputePrice(c *gin.Context) {
	id, ok := pathHash(c, "id")
	if !ok {
		return
	}
	var req model.DisputeRequest
	if !bind(c, &req) {
		return
	}
	bond, err := model.ParseAmount("bond", req.Bond)
	if !invalid(c, err) {
		return
	}
	if err := h.resolver.DisputePrice(c.Request.Context(), middleware.Caller(c), id, bond); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "request_id", id.Hex())
	h.respond(c, id)
}

// SettleRequest settles after liveness; disputed requests need final_price.
func (h *OracleHandler) SettleRequest(c *gin.Context) {
	id, ok := pathHash(c, "id")
	if !ok {
		return
	}
	var req model.SettleRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	var final []*big.Int
	if len(req.FinalPrice) > 0 {
		var err error
		if final, err = model.ParseSigned("final_price", req.FinalPrice); !invalid(c, err) {
			return
		}
	}
	if err := h.resolver.SettleRequest(c.Request.Context(), middleware.Caller(c), id, final); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "request_id", id.Hex())
	h.respond(c, id)
}

func (h *OracleHandler) ReportPayouts(c *gin.Context) {
	id, ok := pathHash(c, "id")
	if !ok {
		return
	}
	var req model.ReportRequest
	if !bind(c, &req) {
		return
	}
	payouts, err := h.resolver.ReportPayouts(c.Request.Context(), id, req.OutcomeSlotCount)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "request_id", id.Hex())
	c.JSON(http.StatusOK, gin.H{"id": id.Hex(), "payouts": bigStrings(payouts)})
}

func (h *OracleHandler) ListProposers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"proposers": hexAddresses(h.resolver.Proposers()),
		"min_bond":  h.resolver.MinBond().String(),
	})
}

func (h *OracleHandler) AddProposer(c *gin.Context) {
	h.setProposer(c, true)
}

func (h *OracleHandler) RemoveProposer(c *gin.Context) {
	h.setProposer(c, false)
}

func (h *OracleHandler) setProposer(c *gin.Context, allowed bool) {
	who, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	op := h.resolver.RemoveProposer
	if allowed {
		op = h.resolver.AddProposer
	}
	if err := op(c.Request.Context(), middleware.Caller(c), who); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "proposer", who.Hex())
	c.JSON(http.StatusOK, gin.H{"address": who.Hex(), "allowed": h.resolver.IsProposer(who)})
}

func (h *OracleHandler) respond(c *gin.Context, id common.Hash) {
	r, err := h.resolver.GetRequest(id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, requestResponse(&r))
}

func requestResponse(r *oracle.Request) gin.H {
	out := gin.H{
		"id":               r.ID.Hex(),
		"phase":            r.Phase().String(),
		"requester":        r.Requester.Hex(),
		"timestamp":        r.Timestamp.UTC().Format(time.RFC3339),
		"ancillary_data":   hexutil.Encode(r.AncillaryData),
		"bond":             bigString(r.Bond),
		"liveness_seconds": int64(r.Liveness / time.Second),
		"disputed":         r.Disputed,
		"settled":          r.Settled,
		"reported":         r.Reported,
	}
	if r.OutcomeSlotCount != 0 {
		out["outcome_slot_count"] = r.OutcomeSlotCount
	}
	if r.Proposer != (common.Address{}) {
		out["proposer"] = r.Proposer.Hex()
		out["proposed_price"] = bigStrings(r.ProposedPrice)
		out["dispute_deadline"] = r.DisputeDeadline.UTC().Format(time.RFC3339)
	}
	if r.Disputed {
		out["disputer"] = r.Disputer.Hex()
		out["dispute_bond"] = bigString(r.DisputeBond)
	}
	if r.Settled {
		out["resolved_price"] = bigStrings(r.ResolvedPrice)
	}
	if r.Reported {
		out["condition_id"] = r.ConditionID.Hex()
		out["payouts"] = bigStrings(r.Payouts)
	}
	return out
}
