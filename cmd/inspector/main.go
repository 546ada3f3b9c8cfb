// Command inspector computes protocol values offline from the same config the
// server loads: order hashes, typed data, wallet addresses and payouts.
//
//	inspector hash <order.json>
//	inspector typed <order.json>
//	inspector proxy <owner> [salt]
//	inspector safe <owner>
//	inspector payouts <slots> <price>...
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/GoPolymarket/ctf-exchange/internal/config"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/oracle"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/proxy"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	logger.Init("error")

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	proto, err := service.NewProtocol(context.Background(), cfg, clock.Real{}, nil)
	if err != nil {
		fail(err)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "hash":
		order := readOrder(args[0])
		digest := proto.Exchange.HashOrder(order)
		emit(model.OrderHashResponse{
			Hash:      signer.HashOrder(order).Hex(),
			Digest:    digest.Hex(),
			Price:     model.ImpliedPrice(order),
			Remaining: order.MakerAmount.String(),
		})
	case "typed":
		order := readOrder(args[0])
		emit(model.TypedOrderResponse{Order: model.OrderToDTO(order), TypedData: proto.Exchange.Domain().TypedData(order)})
	case "proxy":
		owner, err := model.ParseAddress("owner", args[0])
		if err != nil {
			fail(err)
		}
		salt := proxy.CanonicalSalt(owner)
		if len(args) > 1 {
			if salt, err = model.ParseHash("salt", args[1]); err != nil {
				fail(err)
			}
		}
		emit(model.ProxyResponse{
			Address: proto.Factory.PredictProxyAddress(owner, salt).Hex(),
			Owner:   owner.Hex(),
			Salt:    salt.Hex(),
		})
	case "safe":
		owner, err := model.ParseAddress("owner", args[0])
		if err != nil {
			fail(err)
		}
		emit(map[string]string{"owner": owner.Hex(), "safe": proto.Safes.WalletFor(owner).Hex()})
	case "payouts":
		slots, err := strconv.Atoi(args[0])
		if err != nil {
			fail(fmt.Errorf("slots: %w", err))
		}
		price, err := model.ParseSigned("price", args[1:])
		if err != nil {
			fail(err)
		}
		kind, err := oracle.KindOf(price)
		if err != nil {
			fail(err)
		}
		payouts, err := oracle.DecodePayouts(price, slots)
		if err != nil {
			fail(err)
		}
		out := make([]string, len(payouts))
		for i, p := range payouts {
			out[i] = p.String()
		}
		emit(map[string]interface{}{"kind": kind.String(), "payouts": out})
	default:
		usage()
	}
}

func readOrder(path string) *signer.Order {
	raw, err := os.ReadFile(path)
	if err != nil {
		fail(err)
	}
	var dto model.OrderDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		fail(fmt.Errorf("%s: %w", path, err))
	}
	order, err := dto.ToOrder()
	if err != nil {
		fail(err)
	}
	return order
}

func emit(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "inspector:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: inspector hash|typed <order.json> | proxy <owner> [salt] | safe <owner> | payouts <slots> <price>...")
	os.Exit(2)
}
