package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/luminnus/lia-backend/internal/api/middleware"
	"github.com/luminnus/lia-backend/internal/identity"
	"github.com/luminnus/lia-backend/internal/models"
	pgrepo "github.com/luminnus/lia-backend/internal/repositories/postgres"
	"github.com/luminnus/lia-backend/internal/services"
)

const devUserID = "00000000-0000-0000-0000-000000000001"

func newMemoryRouter(t *testing.T, policy identity.Policy) (*gin.Engine, services.MemoryService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MemoryFact{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := services.NewMemoryService(pgrepo.NewMemoryRepo(db), policy, log)
	h := NewMemoryHandler(svc, services.NewMemoryGate())

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.Identity(policy, log))
	api.GET("/memory/load", h.Load)
	api.POST("/memory/save", h.Save)
	api.DELETE("/memory/:key", h.Delete)
	api.POST("/memory/correct", h.Correct)
	api.POST("/memory/forget", h.Forget)
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("bad response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestMemorySaveEndpoint_DirectKeyValue(t *testing.T) {
	r, svc := newMemoryRouter(t, identity.Policy{FallbackUserID: devUserID, AllowFallback: true})

	w, out := doJSON(t, r, http.MethodPost, "/api/memory/save", gin.H{
		"key": "empresa", "value": "Acme", "isImportant": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if out["saved"] != true {
		t.Fatalf("body = %+v", out)
	}

	facts := svc.LoadImportant(context.Background(), devUserID, 5)
	if len(facts) != 1 || facts[0].Content != "Acme" {
		t.Fatalf("facts = %+v", facts)
	}
}

func TestMemorySaveEndpoint_GateBlocksSmallTalk(t *testing.T) {
	r, _ := newMemoryRouter(t, identity.Policy{FallbackUserID: devUserID, AllowFallback: true})

	w, out := doJSON(t, r, http.MethodPost, "/api/memory/save", gin.H{"content": "ok, obrigado!"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out["saved"] != false || out["gateBlocked"] != true {
		t.Fatalf("body = %+v", out)
	}
}

func TestMemorySaveEndpoint_GateExtractsContent(t *testing.T) {
	r, _ := newMemoryRouter(t, identity.Policy{FallbackUserID: devUserID, AllowFallback: true})

	w, out := doJSON(t, r, http.MethodPost, "/api/memory/save", gin.H{"content": "meu nome é Carla"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out["saved"] != true {
		t.Fatalf("body = %+v", out)
	}

	_, loaded := doJSON(t, r, http.MethodGet, "/api/memory/load", nil)
	if loaded["count"].(float64) != 1 {
		t.Fatalf("load = %+v", loaded)
	}
}

func TestMemoryLoadEndpoint_UnresolvedIdentityIs401(t *testing.T) {
	// Production policy: no fallback, no token, no userId param.
	r, _ := newMemoryRouter(t, identity.Policy{})

	w, out := doJSON(t, r, http.MethodGet, "/api/memory/load", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if out["code"] != "UNAUTHORIZED" {
		t.Fatalf("body = %+v", out)
	}
}

func TestMemoryLoadEndpoint_UserIDQueryParam(t *testing.T) {
	r, svc := newMemoryRouter(t, identity.Policy{})
	svc.Save(context.Background(), "legacy-user", "empresa", "Acme", true)

	w, out := doJSON(t, r, http.MethodGet, "/api/memory/load?userId=legacy-user", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out["count"].(float64) != 1 {
		t.Fatalf("body = %+v", out)
	}
}

func TestMemoryCorrectEndpoint_NotFound(t *testing.T) {
	r, _ := newMemoryRouter(t, identity.Policy{FallbackUserID: devUserID, AllowFallback: true})

	w, out := doJSON(t, r, http.MethodPost, "/api/memory/correct", gin.H{"key": "inexistente", "value": "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d body = %+v", w.Code, out)
	}
}

func TestMemoryForgetAndDeleteEndpoints(t *testing.T) {
	r, _ := newMemoryRouter(t, identity.Policy{FallbackUserID: devUserID, AllowFallback: true})

	doJSON(t, r, http.MethodPost, "/api/memory/save", gin.H{"key": "telefone", "value": "+55 11 99999-0000"})

	w, _ := doJSON(t, r, http.MethodPost, "/api/memory/forget", gin.H{"key": "telefone"})
	if w.Code != http.StatusOK {
		t.Fatalf("forget status = %d", w.Code)
	}

	_, loaded := doJSON(t, r, http.MethodGet, "/api/memory/load", nil)
	if loaded["count"].(float64) != 0 {
		t.Fatalf("forgotten fact still listed: %+v", loaded)
	}

	w, out := doJSON(t, r, http.MethodDelete, "/api/memory/telefone", nil)
	if w.Code != http.StatusOK || out["deleted"] != true {
		t.Fatalf("delete = %d %+v", w.Code, out)
	}
}
