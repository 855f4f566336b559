package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// VNPayIPN is the server-to-server confirmation endpoint. The reply RspCode
// acknowledges receipt of the callback; a failed payment is still
// acknowledged with "00" once it has been recorded.
func (s *Server) VNPayIPN(c *gin.Context) {
	params := collectParams(c)

	result, err := s.paymentSvc.Finish(c.Request.Context(), params)
	if err != nil {
		s.log.Error("ipn processing failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"RspCode": "99", "Message": "Unknown error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"RspCode": result.RspCode, "Message": result.Message})
}

// VNPayReturn is the browser redirect target after checkout. It applies the
// same reconciliation as the IPN, so the buyer sees the final outcome even
// when the IPN has not arrived yet, then reports it in the API's own shape.
func (s *Server) VNPayReturn(c *gin.Context) {
	params := collectParams(c)

	result, err := s.paymentSvc.Finish(c.Request.Context(), params)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.OrderID == 0 {
		abortValidation(c, "payment could not be verified")
		return
	}

	status := "failed"
	if result.PaymentSucceeded {
		status = "paid"
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":     result.OrderID.String(),
		"status":       status,
		"order_status": result.OrderStatus,
	})
}

func collectParams(c *gin.Context) map[string]string {
	params := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for key, values := range c.Request.PostForm {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}
		}
	}
	return params
}
