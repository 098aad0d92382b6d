package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/bloodlink/internal/model"
)

func TestDashboardHandler_Overview_DonorSeesRecentThree(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(donorSID, donorUser)
	env.remote.reply("GET /donation-requests/my", http.StatusOK, []model.DonationRequest{
		pendingRequest("a", donorUser.Email),
		pendingRequest("b", donorUser.Email),
		pendingRequest("c", donorUser.Email),
		pendingRequest("d", donorUser.Email),
	})

	w := env.get(t, "/dashboard", donorSID)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	assertContains(t, body, "Donor Dashboard Overview")
	assertContains(t, body, "Recipient c")
	if strings.Contains(body, "Recipient d") {
		t.Error("overview should show only 3 recent requests")
	}
	if strings.Contains(body, "/dashboard/all-users") {
		t.Error("donor should not see the users link")
	}
	if env.remote.count("GET /admin-or-volunteer/stats") != 0 {
		t.Error("donor overview must not load stats")
	}
}

func TestDashboardHandler_Overview_StaffSeesStats(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(adminSID, adminUser)
	env.remote.reply("GET /admin-or-volunteer/stats", http.StatusOK, model.Stats{TotalDonors: 42, TotalRequests: 7, TotalFunding: 900})

	w := env.get(t, "/dashboard", adminSID)

	body := w.Body.String()
	assertContains(t, body, "Admin Dashboard Overview")
	assertContains(t, body, "<p>42</p>")
	assertContains(t, body, "/dashboard/all-users")
}

func TestDashboardHandler_Overview_StatsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(staffSID, staffUser)
	env.remote.reply("GET /admin-or-volunteer/stats", http.StatusInternalServerError, map[string]string{})

	w := env.get(t, "/dashboard", staffSID)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	assertContains(t, w.Body.String(), "Failed to load stats.")
}

func TestDashboardHandler_Profile_ViewAndEdit(t *testing.T) {
	env := newTestEnv(t)
	user := donorUser
	user.District = "Khulna"
	env.signIn(donorSID, user)

	w := env.get(t, "/dashboard/profile", donorSID)
	body := w.Body.String()
	assertContains(t, body, "District: Khulna")
	if strings.Contains(body, `name="upazila"`) {
		t.Error("view mode should not show the form")
	}

	w = env.get(t, "/dashboard/profile?edit=1", donorSID)
	assertContains(t, w.Body.String(), `name="upazila"`)
}

func TestDashboardHandler_UpdateProfile_KeepsRoleAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(staffSID, staffUser)
	env.remote.reply("PUT /users", http.StatusOK, map[string]any{"modifiedCount": 1})

	w := env.post(t, "/dashboard/profile", staffSID, url.Values{
		"name":       {"Karim <script>x</script>"},
		"bloodGroup": {"AB+"},
		"district":   {"Sylhet"},
		"upazila":    {"Beanibazar"},
		// 送られてきてもロールは変えない
		"role": {"admin"},
	})

	assertRedirect(t, w, profilePath)
	call, _ := env.remote.last("PUT /users")
	var got model.User
	if err := json.Unmarshal([]byte(call.Body), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Email != staffUser.Email || got.Role != model.RoleVolunteer || got.Status != model.UserStatusActive {
		t.Errorf("upsert = %+v", got)
	}
	if got.ID != "" {
		t.Errorf("ID should not be sent, got %q", got.ID)
	}
	if strings.Contains(got.Name, "<") || got.District != "Sylhet" || got.BloodGroup != "AB+" {
		t.Errorf("profile fields = %+v", got)
	}
	if f := flashOf(t, w); f == nil || f.Message != "Profile updated successfully" {
		t.Errorf("flash = %+v", f)
	}
}

func TestDashboardHandler_UpdateProfile_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(donorSID, donorUser)

	w := env.post(t, "/dashboard/profile", donorSID, url.Values{
		"name":       {""},
		"bloodGroup": {"Z+"},
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	assertContains(t, w.Body.String(), "Name is required.")
	if env.remote.count("PUT /users") != 0 {
		t.Error("invalid profile must not be sent")
	}
}

func TestDashboardHandler_AllUsers_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(staffSID, staffUser)
	env.signIn(adminSID, adminUser)
	env.remote.reply("GET /admin/users", http.StatusOK, []model.User{donorUser, staffUser})

	w := env.get(t, "/dashboard/all-users", staffSID)
	assertRedirect(t, w, "/dashboard")

	w = env.get(t, "/dashboard/all-users?status=blocked", adminSID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	assertContains(t, w.Body.String(), donorUser.Email)
	call, _ := env.remote.last("GET /admin/users")
	if call.Query.Get("status") != "blocked" {
		t.Errorf("status query = %v", call.Query)
	}
}

func TestDashboardHandler_SetUserStatusAndRole(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(adminSID, adminUser)
	env.remote.reply("PATCH /admin/users/u1", http.StatusOK, map[string]any{})

	w := env.post(t, "/dashboard/all-users/u1/status", adminSID, url.Values{
		"status": {"blocked"},
		"return": {"/dashboard/all-users?status=active"},
	})
	assertRedirect(t, w, "/dashboard/all-users?status=active")
	call, _ := env.remote.last("PATCH /admin/users/u1")
	if call.Body != `{"status":"blocked"}`+"\n" && call.Body != `{"status":"blocked"}` {
		t.Errorf("status body = %q", call.Body)
	}

	w = env.post(t, "/dashboard/all-users/u1/role", adminSID, url.Values{"role": {"volunteer"}})
	assertRedirect(t, w, allUsersPath)
	call, _ = env.remote.last("PATCH /admin/users/u1")
	if !strings.Contains(call.Body, `"role":"volunteer"`) {
		t.Errorf("role body = %q", call.Body)
	}
	if f := flashOf(t, w); f == nil || f.Message != "Updated successfully" {
		t.Errorf("flash = %+v", f)
	}

	// 不明なロールはAPIに送らない
	before := env.remote.count("PATCH /admin/users/u1")
	w = env.post(t, "/dashboard/all-users/u1/role", adminSID, url.Values{"role": {"root"}})
	assertRedirect(t, w, allUsersPath)
	if env.remote.count("PATCH /admin/users/u1") != before {
		t.Error("invalid role must not reach the API")
	}
}
