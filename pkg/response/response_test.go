package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestOKIncludesMeta(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	OK(c, []string{"a"}, map[string]interface{}{"cache_hit": true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	body := decode(t, w)
	assert.Equal(t, []interface{}{"a"}, body["data"])
	assert.Equal(t, true, body["meta"].(map[string]interface{})["cache_hit"])
}

func TestErrorMarksReportFailuresRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, appErrors.Wrap(errors.New("sites offline"), appErrors.ErrReportGeneration.Code, appErrors.ErrReportGeneration.Status, appErrors.ErrReportGeneration.Message))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "REPORT_GENERATION_FAILED", errBody["code"])
	assert.Equal(t, "failed to generate report", errBody["message"])
	assert.Equal(t, true, body["meta"].(map[string]interface{})["retryable"])
}

func TestErrorValidationIsNotRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, appErrors.ErrInvalidPeriod)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["meta"])
}

func TestErrorNormalisesPlainErrors(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, w)["error"].(map[string]interface{})["code"])
}
