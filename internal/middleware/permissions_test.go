package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHasPermission_WildcardsAndExact(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"star", []string{"*"}, "tickets.read", true},
		{"exact", []string{"tickets.read"}, "tickets.read", true},
		{"prefixStar", []string{"tickets.*"}, "tickets.read", true},
		{"prefixStarWrite", []string{"tickets.*"}, "tickets.write", true},
		{"noMatch", []string{"sla.read"}, "tickets.read", false},
		{"readNotWrite", []string{"escalations.read"}, "escalations.write", false},
		{"empty", nil, "tickets.read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.granted, tt.required); got != tt.want {
				t.Fatalf("HasPermission(%v, %q)=%v want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}

func TestRequireResourcePermission_ReadWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("permissions", []string{"escalations.read"})
		c.Next()
	})
	r.Use(RequireResourcePermission("escalations"))
	r.GET("/rules", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	r.POST("/rules", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/rules", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET expected 200 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/rules", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("POST expected 403 got %d", w.Code)
	}
}

func TestRequirePermissionsAnyAll(t *testing.T) {
	gin.SetMode(gin.TestMode)

	build := func(guard gin.HandlerFunc, perms []string) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Set("permissions", perms)
			c.Next()
		})
		r.Use(guard)
		r.GET("/x", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
		return r
	}

	get := func(r *gin.Engine) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/x", nil)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := get(build(RequirePermissionsAny("a.read", "b.read"), []string{"b.read"})); code != 200 {
		t.Fatalf("any: expected 200 got %d", code)
	}
	if code := get(build(RequirePermissionsAny("a.read", "b.read"), []string{"c.read"})); code != 403 {
		t.Fatalf("any miss: expected 403 got %d", code)
	}
	if code := get(build(RequirePermissionsAll("a.read", "b.read"), []string{"a.read", "b.read"})); code != 200 {
		t.Fatalf("all: expected 200 got %d", code)
	}
	if code := get(build(RequirePermissionsAll("a.read", "b.read"), []string{"a.read"})); code != 403 {
		t.Fatalf("all partial: expected 403 got %d", code)
	}
}

func TestOraclePermission_MapsServiceResources(t *testing.T) {
	ctx := ContextWithPermissions(context.Background(), []string{"escalations.write", "sla.read"})

	if !OraclePermission(ctx, 1, "create", "escalation_rule") {
		t.Fatal("escalation_rule create should map to escalations.write")
	}
	if OraclePermission(ctx, 1, "delete", "sla_policy") {
		t.Fatal("sla_policy delete needs sla.write")
	}
	if !OraclePermission(ctx, 1, "read", "sla_policy") {
		t.Fatal("sla_policy read should map to sla.read")
	}
	if OraclePermission(context.Background(), 1, "create", "escalation_rule") {
		t.Fatal("no permissions in context means denied")
	}
}
