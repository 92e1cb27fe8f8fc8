package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type tokenValidatorStub struct {
	claims map[string]*models.JWTClaims
}

func (s tokenValidatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s.claims[token]; ok {
		return claims, nil
	}
	return nil, appErrors.WrapAs(errors.New("signature is invalid"), appErrors.ErrUnauthorized, "invalid token")
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator := tokenValidatorStub{claims: map[string]*models.JWTClaims{
		"scheduler-token": {UserID: "u-1", Role: models.RoleScheduler},
		"teacher-token":   {UserID: "u-2", Role: models.RoleTeacher},
	}}
	router := gin.New()
	router.Use(JWT(validator))
	router.GET("/status", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.POST("/generations", RequireRoles(models.RoleAdmin, models.RoleScheduler), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return router
}

func serve(router *gin.Engine, method, path, authorization string) int {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(recorder, req)
	return recorder.Code
}

func TestJWTMiddleware(t *testing.T) {
	router := newAuthRouter()

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/status", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/status", "Token scheduler-token"))
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/status", "Bearer forged"))
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/status", "Bearer teacher-token"))
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/status", "bearer scheduler-token"))
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/status", "Bearer "))
}

func TestRBACMiddleware(t *testing.T) {
	router := newAuthRouter()

	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodPost, "/generations", "Bearer scheduler-token"))
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, "/generations", "Bearer teacher-token"))
}

func TestRBACWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/", ""))
}

func TestClaimsFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, Claims(c))

	c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-9", Role: models.RoleAdmin})
	assert.Equal(t, "u-9", Claims(c).Actor())
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ResponseMeta(c))

	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		meta = ResponseMeta(c)
		c.Status(http.StatusOK)
	})
	serve(router, http.MethodGet, "/", "")
	assert.Contains(t, meta, "processing_time_ms")
}
