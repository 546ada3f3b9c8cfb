package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/proxy"
)

var errUnknownWallet = apperrors.Sentinel(apperrors.ErrNotFound, "wallet not deployed")

type ProxyHandler struct {
	factory *proxy.Factory
	safes   *proxy.SafeDeriver
}

func NewProxyHandler(factory *proxy.Factory, safes *proxy.SafeDeriver) *ProxyHandler {
	return &ProxyHandler{factory: factory, safes: safes}
}

// CreateProxy deploys a wallet. Without a salt the owner's canonical wallet is
// returned, deploying it on first use. Without init data the wallet is
// initialized for its owner.
func (h *ProxyHandler) CreateProxy(c *gin.Context) {
	var req model.ProxyRequest
	if !bind(c, &req) {
		return
	}
	owner, err := model.ParseAddress("owner", req.Owner)
	if !invalid(c, err) {
		return
	}
	initData := proxy.EncodeInitialize(owner)
	if req.InitData != "" {
		if initData, err = hexutil.Decode(req.InitData); !invalid(c, err) {
			return
		}
	}

	ctx := c.Request.Context()
	var (
		w       *proxy.Wallet
		created = true
	)
	if req.Salt == "" {
		w, created, err = h.factory.MaybeCreateProxy(ctx, owner, initData)
	} else {
		salt, perr := model.ParseHash("salt", req.Salt)
		if !invalid(c, perr) {
			return
		}
		w, err = h.factory.CreateProxy(ctx, owner, salt, initData)
	}
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "wallet", w.Address().Hex())
	resp := walletResponse(w)
	resp.Created = created
	c.JSON(http.StatusOK, resp)
}

func (h *ProxyHandler) ListProxies(c *gin.Context) {
	addrs := h.factory.Proxies()
	out := make([]model.ProxyResponse, 0, len(addrs))
	for _, a := range addrs {
		if w, ok := h.factory.GetProxy(a); ok {
			out = append(out, walletResponse(w))
		}
	}
	c.JSON(http.StatusOK, gin.H{"proxies": out})
}

// Predict reports where (owner, salt) deploys to; salt defaults to the
// canonical one.
func (h *ProxyHandler) Predict(c *gin.Context) {
	owner, err := model.ParseAddress("owner", c.Query("owner"))
	if !invalid(c, err) {
		return
	}
	salt := proxy.CanonicalSalt(owner)
	if raw := c.Query("salt"); raw != "" {
		if salt, err = model.ParseHash("salt", raw); !invalid(c, err) {
			return
		}
	}
	addr := h.factory.PredictProxyAddress(owner, salt)
	_, deployed := h.factory.GetProxy(addr)
	c.JSON(http.StatusOK, model.ProxyResponse{
		Address:  addr.Hex(),
		Owner:    owner.Hex(),
		Salt:     salt.Hex(),
		Deployed: deployed,
	})
}

func (h *ProxyHandler) SafeAddress(c *gin.Context) {
	owner, ok := pathAddress(c, "owner")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.Hex(), "safe": h.safes.WalletFor(owner).Hex()})
}

func (h *ProxyHandler) GetProxy(c *gin.Context) {
	w, ok := h.wallet(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, walletResponse(w))
}

// Execute runs one call, or a batch when several are given. A batch stops at
// the first failing call.
func (h *ProxyHandler) Execute(c *gin.Context) {
	w, ok := h.wallet(c)
	if !ok {
		return
	}
	var req model.WalletCallRequest
	if !bind(c, &req) {
		return
	}
	calls := make([]proxy.Call, len(req.Calls))
	for i, dto := range req.Calls {
		to, err := model.ParseAddress("to", dto.To)
		if !invalid(c, err) {
			return
		}
		var data []byte
		if dto.Data != "" {
			if data, err = hexutil.Decode(dto.Data); !invalid(c, err) {
				return
			}
		}
		calls[i] = proxy.Call{To: to, Data: data}
	}

	caller := middleware.Caller(c)
	var (
		outputs [][]byte
		err     error
	)
	if len(calls) == 1 {
		var out []byte
		out, err = w.Execute(c.Request.Context(), caller, calls[0])
		outputs = [][]byte{out}
	} else {
		outputs, err = w.ExecuteBatch(c.Request.Context(), caller, calls)
	}
	if err != nil {
		c.Error(err)
		return
	}
	results := make([]string, len(outputs))
	for i, out := range outputs {
		results[i] = hexutil.Encode(out)
	}
	middleware.AddAuditContext(c, "calls", len(calls))
	c.JSON(http.StatusOK, gin.H{"wallet": w.Address().Hex(), "results": results, "nonce": w.Nonce()})
}

func (h *ProxyHandler) Pause(c *gin.Context) {
	h.walletCall(c, func(ctx context.Context, w *proxy.Wallet, caller common.Address) error {
		return w.Pause(ctx, caller)
	})
}

func (h *ProxyHandler) Unpause(c *gin.Context) {
	h.walletCall(c, func(ctx context.Context, w *proxy.Wallet, caller common.Address) error {
		return w.Unpause(ctx, caller)
	})
}

func (h *ProxyHandler) IncrementNonce(c *gin.Context) {
	h.walletCall(c, func(ctx context.Context, w *proxy.Wallet, caller common.Address) error {
		_, err := w.IncrementNonce(ctx, caller)
		return err
	})
}

func (h *ProxyHandler) walletCall(c *gin.Context, op func(context.Context, *proxy.Wallet, common.Address) error) {
	w, ok := h.wallet(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), w, middleware.Caller(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, walletResponse(w))
}

func (h *ProxyHandler) wallet(c *gin.Context) (*proxy.Wallet, bool) {
	addr, ok := pathAddress(c, "address")
	if !ok {
		return nil, false
	}
	w, ok := h.factory.GetProxy(addr)
	if !ok {
		c.Error(errUnknownWallet)
		return nil, false
	}
	return w, true
}

func walletResponse(w *proxy.Wallet) model.ProxyResponse {
	resp := model.ProxyResponse{
		Address:  w.Address().Hex(),
		Owner:    w.Owner().Hex(),
		Salt:     w.Salt().Hex(),
		Deployed: true,
		Paused:   w.Paused(),
		Nonce:    w.Nonce(),
	}
	if impl, err := w.GetImplementation(); err == nil {
		resp.Implementation = impl.Hex()
	}
	return resp
}
