package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareKeepsOrReplacesCallerID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	var fromGin, fromCtx string
	r.GET("/", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "well formed", header: "run-42", keep: true},
		{name: "missing", header: ""},
		{name: "too long", header: strings.Repeat("a", maxLength+1)},
		{name: "control characters", header: "abc\ndef"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(Header, tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			echoed := rec.Header().Get(Header)
			assert.NotEmpty(t, echoed)
			assert.Equal(t, echoed, fromGin)
			assert.Equal(t, echoed, fromCtx)
			if tc.keep {
				assert.Equal(t, tc.header, echoed)
			} else {
				assert.NotEqual(t, tc.header, echoed)
			}
		})
	}
}
