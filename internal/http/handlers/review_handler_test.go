package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReviewHandler_Create_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &ReviewHandler{reviews: nil}
	r.POST("/reviews", handler.Create)

	req, _ := http.NewRequest("POST", "/reviews", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReviewHandler_Create_InvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &ReviewHandler{reviews: nil}
	r.POST("/reviews", withTestUser(uuid.New(), "client"), handler.Create)

	body := strings.NewReader(`{"project_id": "not-a-uuid", "rating": 5}`)
	req, _ := http.NewRequest("POST", "/reviews", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewHandler_ListUserReviews_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &ReviewHandler{reviews: nil}
	r.GET("/users/:id/reviews", handler.ListUserReviews)

	req, _ := http.NewRequest("GET", "/users/bad-id/reviews", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewHandler_GetUserRating_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &ReviewHandler{reviews: nil}
	r.GET("/users/:id/rating", handler.GetUserRating)

	req, _ := http.NewRequest("GET", "/users/bad-id/rating", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
