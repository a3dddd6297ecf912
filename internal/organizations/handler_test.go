package organizations

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/pkg/response"
)

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, zap.NewNop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, c.GetHeader("X-Test-User"))
		c.Next()
	})
	r.GET("/organizations", h.ListMyOrganizations)
	r.POST("/organizations", h.CreateOrganization)
	r.GET("/organizations/:orgId", h.GetOrganization)
	r.PATCH("/organizations/:orgId", h.UpdateOrganization)
	r.GET("/organizations/:orgId/members", h.ListMembers)
	r.POST("/organizations/:orgId/members", h.InviteMember)
	r.PATCH("/organizations/:orgId/members/:memberId", h.ChangeMemberRole)
	r.DELETE("/organizations/:orgId/members/:memberId", h.RemoveMember)
	r.POST("/organizations/:orgId/members/:memberId/transfer-ownership", h.TransferOwnership)
	return r
}

func do(r *gin.Engine, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerInviteMember(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	newbie := f.user("newbie@acme.test")
	path := "/organizations/" + f.org.ID + "/members"

	tests := []struct {
		name       string
		actor      string
		body       gin.H
		wantStatus int
	}{
		{"malformed body", f.owner.ID, gin.H{"email": "not-an-email", "role": "member"}, http.StatusBadRequest},
		{"unknown role", f.owner.ID, gin.H{"email": newbie.Email, "role": "superuser"}, http.StatusBadRequest},
		{"owner role", f.owner.ID, gin.H{"email": newbie.Email, "role": "owner"}, http.StatusBadRequest},
		{"member caller", f.member.ID, gin.H{"email": newbie.Email, "role": "member"}, http.StatusForbidden},
		{"member caller asking for owner", f.member.ID, gin.H{"email": newbie.Email, "role": "owner"}, http.StatusForbidden},
		{"member caller with unknown role", f.member.ID, gin.H{"email": newbie.Email, "role": "superuser"}, http.StatusForbidden},
		{"unknown user", f.owner.ID, gin.H{"email": "ghost@acme.test", "role": "member"}, http.StatusNotFound},
		{"already member", f.owner.ID, gin.H{"email": f.admin.Email, "role": "member"}, http.StatusConflict},
		{"ok", f.owner.ID, gin.H{"email": newbie.Email, "role": "Member"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, path, tt.actor, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestHandlerMemberLifecycle(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	base := "/organizations/" + f.org.ID + "/members/"

	w := do(r, http.MethodPatch, base+f.adminM.ID, f.admin.ID, gin.H{"role": "member"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPatch, base+f.memM.ID, f.owner.ID, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, base+f.ownerM.ID, f.owner.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, base+"mem-missing", f.owner.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, base+f.adminM.ID+"/transfer-ownership", f.owner.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrgRoleOwner, f.roles()[f.admin.ID])

	w = do(r, http.MethodDelete, base+f.ownerM.ID, f.admin.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandlerOrganizations(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	w := do(r, http.MethodPost, "/organizations", f.member.ID, gin.H{"name": "Blackbox Rep"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/organizations", f.member.ID, gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/organizations", f.member.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		response.Body
		Data []models.OrganizationMembership `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.Data, 2)

	outsider := f.user("out@else.test")
	w = do(r, http.MethodGet, "/organizations/"+f.org.ID, outsider.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/organizations/"+f.org.ID+"/members", f.member.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPatch, "/organizations/"+f.org.ID, f.admin.ID, gin.H{"name": "Acme Rep"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Acme Rep")
}
