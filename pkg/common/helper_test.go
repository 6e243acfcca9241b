package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depositgate.com/pkg/xerr"
)

func TestFailFromErr(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"db error", xerr.Wrap(errors.New("conn refused"), xerr.DbError, "insert"), http.StatusInternalServerError, xerr.DbError},
		{"bad params", xerr.NewErrCode(xerr.RequestParamsError), http.StatusBadRequest, xerr.RequestParamsError},
		{"not found", xerr.NewErrCode(xerr.RecordNotFound), http.StatusNotFound, xerr.RecordNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, xerr.ServerCommonError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

			FailFromErr(c, tc.err)

			assert.Equal(t, tc.wantStatus, w.Code)
			var resp Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Code)
			assert.Nil(t, resp.Data)
			// 内部错误信息不能透出
			assert.NotContains(t, w.Body.String(), "conn refused")
		})
	}
}
