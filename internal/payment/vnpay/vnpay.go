// Package vnpay implements the VNPay gateway wire conventions: pay-URL
// construction and IPN verification. Both sides sign an HMAC-SHA512 over
// the sorted, URL-encoded parameter string with the merchant secret.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallorbit/nebula/internal/config"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	"github.com/smallorbit/nebula/internal/payment/domain"
)

const (
	Gateway = "vnpay"

	version  = "2.1.0"
	currency = "VND"

	// ResponseCodeSuccess in vnp_ResponseCode means the payment itself
	// succeeded. Distinct from the RspCode acknowledgment we reply with.
	ResponseCodeSuccess = "00"

	// Reply codes for the IPN acknowledgment, per the gateway convention:
	// "00" means "callback received and processed", regardless of the
	// payment outcome it carried.
	RspConfirmSuccess   = "00"
	RspOrderNotFound    = "01"
	RspAlreadyConfirmed = "02"
	RspInvalidAmount    = "04"
	RspInvalidChecksum  = "97"
	RspUnknownError     = "99"

	createDateLayout = "20060102150405"
)

type Gate struct {
	tmnCode    string
	hashSecret string
	payURL     string
	returnURL  string
}

func New(cfg config.VNPayConfig) *Gate {
	return &Gate{
		tmnCode:    cfg.TmnCode,
		hashSecret: cfg.HashSecret,
		payURL:     cfg.PayURL,
		returnURL:  cfg.ReturnURL,
	}
}

// BuildPayURL returns the redirect URL that sends the buyer to the
// gateway's checkout page for the order.
func (g *Gate) BuildPayURL(order *orderdomain.Order, clientIP string, now time.Time) string {
	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.tmnCode,
		"vnp_Amount":     strconv.FormatInt(order.Price*100, 10),
		"vnp_CurrCode":   currency,
		"vnp_TxnRef":     order.ID.String(),
		"vnp_OrderInfo":  fmt.Sprintf("Payment for order %s", order.ID),
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  g.returnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": now.Format(createDateLayout),
	}

	query := canonicalQuery(params)
	return fmt.Sprintf("%s?%s&vnp_SecureHash=%s", g.payURL, query, g.sign(query))
}

// VerifyIPN checks the callback signature before any field is trusted.
// The hash covers every vnp_ parameter except the hash fields themselves,
// sorted by key and URL-encoded exactly as in the pay URL.
func (g *Gate) VerifyIPN(params map[string]string) error {
	received := strings.TrimSpace(params["vnp_SecureHash"])
	if received == "" {
		return domain.ErrInvalidSignature
	}

	signed := make(map[string]string, len(params))
	for k, v := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		signed[k] = v
	}

	expected := g.sign(canonicalQuery(signed))
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}

	if code := params["vnp_CurrCode"]; code != "" && code != currency {
		return domain.ErrUnsupportedCurrency
	}
	return nil
}

// Amount extracts the paid amount. The wire format carries it multiplied
// by 100.
func Amount(params map[string]string) (int64, error) {
	raw, err := strconv.ParseInt(strings.TrimSpace(params["vnp_Amount"]), 10, 64)
	if err != nil || raw < 0 || raw%100 != 0 {
		return 0, domain.ErrInvalidPayload
	}
	return raw / 100, nil
}

// EventID derives the dedup key for one callback delivery. The gateway's
// transaction number is stable across redeliveries of the same event.
func EventID(params map[string]string) string {
	if txn := strings.TrimSpace(params["vnp_TransactionNo"]); txn != "" {
		return txn
	}
	return fmt.Sprintf("%s:%s", params["vnp_TxnRef"], params["vnp_PayDate"])
}

func (g *Gate) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.hashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if params[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
